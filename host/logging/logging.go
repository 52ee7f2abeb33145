// Package logging configures the leveled op/go-logging backends and logs the
// events the control loop reports.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gologging "github.com/op/go-logging"

	"goverter/core"
)

var (
	consoleFormat = gologging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{module:-8s} %{level:.4s}%{color:reset} %{message}`,
	)
	fileFormat = gologging.MustStringFormatter(
		`%{time:2006-01-02T15:04:05.000} %{module} %{level:.4s} %{message}`,
	)
)

// Setup installs a colored backend on console and, when file is not nil, a
// plain one on file. Both are filtered at level.
func Setup(level string, console, file io.Writer) error {
	lvl, err := gologging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}

	var backends []gologging.Backend
	if console != nil {
		b := gologging.NewBackendFormatter(gologging.NewLogBackend(console, "", 0), consoleFormat)
		backends = append(backends, b)
	}
	if file != nil {
		b := gologging.NewBackendFormatter(gologging.NewLogBackend(file, "", 0), fileFormat)
		backends = append(backends, b)
	}

	leveled := gologging.MultiLogger(backends...)
	leveled.SetLevel(lvl, "")
	gologging.SetBackend(leveled)
	return nil
}

// OpenFile opens path for appending, creating its directory.
func OpenFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Writer adapts a logger to an io.Writer at Info level, one entry per line.
type Writer struct {
	Log *gologging.Logger
}

func (w Writer) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.Log.Info(line)
		}
	}
	return len(p), nil
}

// SummaryInterval is how often repeated clamp and overrun events are summarised.
const SummaryInterval = time.Second

// EventLogger turns loop events into log entries. Edge events are logged
// one by one; clamps and overruns, which can repeat every cycle, are logged
// on first occurrence and then counted per SummaryInterval.
type EventLogger struct {
	log     *gologging.Logger
	clamped uint64
	overrun uint64
	quiet   bool
}

// NewEventLogger logs to l.
func NewEventLogger(l *gologging.Logger) *EventLogger {
	return &EventLogger{log: l}
}

// Handle logs or counts one event.
func (e *EventLogger) Handle(ev core.Event) {
	switch ev.Kind {
	case core.EventStart:
		e.log.Noticef("power stage started (cycle %d)", ev.Cycle)
	case core.EventStop:
		e.log.Noticef("power stage stopped (cycle %d)", ev.Cycle)
	case core.EventDutyClamped:
		if e.clamped == 0 && !e.quiet {
			e.log.Warningf("duty %.3f on %v outside safe range, clamped (cycle %d)", ev.Value, ev.Leg, ev.Cycle)
		}
		e.clamped++
	case core.EventOverrun:
		if e.overrun == 0 && !e.quiet {
			e.log.Warningf("control cycle %d overran by %v", ev.Cycle, time.Duration(ev.Value*float64(time.Second)))
		}
		e.overrun++
	default:
		e.log.Debugf("event %v (cycle %d)", ev.Kind, ev.Cycle)
	}
}

// Flush logs the counts accumulated since the previous flush.
func (e *EventLogger) Flush() {
	if e.clamped > 1 {
		e.log.Warningf("%d duty commands clamped in the last %v", e.clamped, SummaryInterval)
	}
	if e.overrun > 1 {
		e.log.Warningf("%d control overruns in the last %v", e.overrun, SummaryInterval)
	}
	e.quiet = e.clamped > 0 || e.overrun > 0
	e.clamped, e.overrun = 0, 0
}

// Drain handles events from ch until ctx is done.
func (e *EventLogger) Drain(ctx context.Context, ch <-chan core.Event) {
	ticker := time.NewTicker(SummaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-ch:
					e.Handle(ev)
				default:
					e.Flush()
					return
				}
			}
		case ev := <-ch:
			e.Handle(ev)
		case <-ticker.C:
			e.Flush()
		}
	}
}
