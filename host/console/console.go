// Package console implements the operator interface task: single key
// commands that change the requested mode and the reference.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/op/go-logging"

	"goverter/core"
)

var log = logging.MustGetLogger("console")

var (
	// ErrNoKey is returned by a KeySource when no key arrived within its poll
	// interval. The console task simply tries again.
	ErrNoKey = errors.New("no key available")
	// ErrQuit is returned by a KeySource when the operator asked to exit.
	ErrQuit = errors.New("quit requested")
)

// KeySource delivers operator key presses one at a time.
type KeySource interface {
	ReadKey() (byte, error)
}

// DefaultPoll bounds how long a key source blocks, so the task notices
// cancellation.
const DefaultPoll = 100 * time.Millisecond

// readerSource pumps an io.Reader from its own goroutine. The reader cannot
// be interrupted, so the goroutine ends only with the reader.
type readerSource struct {
	keys chan byte
	errs chan error
	poll time.Duration
}

// NewReaderSource reads keys from r, e.g. os.Stdin.
func NewReaderSource(r io.Reader, poll time.Duration) KeySource {
	s := &readerSource{
		keys: make(chan byte, 16),
		errs: make(chan error, 1),
		poll: poll,
	}
	go func() {
		br := bufio.NewReader(r)
		for {
			b, err := br.ReadByte()
			if err != nil {
				s.errs <- err
				return
			}
			s.keys <- b
		}
	}()
	return s
}

func (s *readerSource) ReadKey() (byte, error) {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case b := <-s.keys:
		return b, nil
	case err := <-s.errs:
		return 0, err
	case <-timer.C:
		return 0, ErrNoKey
	}
}

// Options tune the console.
type Options struct {
	AmplitudeStep float64 // u/j increment, default 0.05
	FrequencyStep float64 // f/v increment in Hz, default 5
	OnQuit        func()  // called when the key source reports ErrQuit
}

// Console maps keys to setpoint changes and echoes what it did.
type Console struct {
	keys KeySource
	out  io.Writer
	setp *core.Setpoints
	reg  *Registry
	opts Options
}

// New builds a console with the standard key map.
func New(keys KeySource, out io.Writer, setp *core.Setpoints, opts Options) *Console {
	if opts.AmplitudeStep == 0 {
		opts.AmplitudeStep = 0.05
	}
	if opts.FrequencyStep == 0 {
		opts.FrequencyStep = 5
	}
	c := &Console{
		keys: keys,
		out:  out,
		setp: setp,
		reg:  NewRegistry(),
		opts: opts,
	}
	c.registerDefaults()
	return c
}

func (c *Console) registerDefaults() {
	c.reg.Register('h', "help menu", func() string {
		return c.reg.Menu()
	})
	c.reg.Register('i', "idle mode", func() string {
		c.setp.RequestMode(core.ModeIdle)
		return "Idle mode request\n"
	})
	c.reg.Register('p', "power mode", func() string {
		c.setp.RequestMode(core.ModePower)
		return fmt.Sprintf("Power mode request (amplitude %.2f)\n", c.setp.Amplitude())
	})
	c.reg.Register('u', "amplitude UP", func() string {
		return fmt.Sprintf("Amplitude UP (%.2f)\n", c.setp.AdjustAmplitude(c.opts.AmplitudeStep))
	})
	c.reg.Register('j', "amplitude DOWN", func() string {
		return fmt.Sprintf("Amplitude DOWN (%.2f)\n", c.setp.AdjustAmplitude(-c.opts.AmplitudeStep))
	})
	c.reg.Register('f', "frequency UP", func() string {
		return fmt.Sprintf("Frequency UP (%.1f Hz)\n", c.setp.AdjustFrequency(c.opts.FrequencyStep))
	})
	c.reg.Register('v', "frequency DOWN", func() string {
		return fmt.Sprintf("Frequency DOWN (%.1f Hz)\n", c.setp.AdjustFrequency(-c.opts.FrequencyStep))
	})
}

// Registry exposes the key map so callers can add keys.
func (c *Console) Registry() *Registry {
	return c.reg
}

// HandleKey runs the command bound to key and writes its echo line.
func (c *Console) HandleKey(key byte) {
	echo, ok := c.reg.Dispatch(key)
	if !ok {
		return
	}
	log.Debugf("key %q", key)
	if echo != "" {
		io.WriteString(c.out, echo)
	}
}

// Task returns the background function reading one key per iteration.
func (c *Console) Task() core.BackgroundFunc {
	return func() time.Duration {
		key, err := c.keys.ReadKey()
		switch {
		case err == nil:
			c.HandleKey(key)
			return 0
		case errors.Is(err, ErrNoKey):
			return 0
		case errors.Is(err, ErrQuit):
			log.Notice("operator requested exit")
			if c.opts.OnQuit != nil {
				c.opts.OnQuit()
			}
			return core.Finished
		case errors.Is(err, io.EOF):
			log.Info("console input closed")
			return core.Finished
		default:
			log.Warningf("console read: %v", err)
			return core.Finished
		}
	}
}
