// Package status implements the display task: a periodic status line and
// the IDLE/POWER indicator.
package status

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/op/go-logging"
	"periph.io/x/conn/v3/physic"

	"goverter/core"
)

var log = logging.MustGetLogger("status")

// Indicator is the board LED: steady in IDLE, blinking in POWER.
type Indicator interface {
	On()
	Toggle()
}

// Source provides controller snapshots.
type Source interface {
	Snapshot() core.Status
}

// Renderer shows one snapshot.
type Renderer interface {
	Render(st core.Status) error
}

// DefaultInterval is the display period.
const DefaultInterval = 200 * time.Millisecond

// Display polls the controller and feeds the indicator and renderers.
type Display struct {
	src       Source
	led       Indicator
	interval  time.Duration
	renderers []Renderer
	failed    map[int]bool
}

// NewDisplay creates a display task. led may be nil.
func NewDisplay(src Source, led Indicator, interval time.Duration, renderers ...Renderer) *Display {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Display{
		src:       src,
		led:       led,
		interval:  interval,
		renderers: renderers,
		failed:    make(map[int]bool),
	}
}

// Update runs one display iteration.
func (d *Display) Update() {
	st := d.src.Snapshot()
	if d.led != nil {
		if st.Requested == core.ModePower {
			d.led.Toggle()
		} else {
			d.led.On()
		}
	}
	for i, r := range d.renderers {
		err := r.Render(st)
		// log once per failure streak
		if err != nil && !d.failed[i] {
			log.Warningf("status renderer %d: %v", i, err)
		}
		d.failed[i] = err != nil
	}
}

// Task returns the background function for the scheduler.
func (d *Display) Task() core.BackgroundFunc {
	return func() time.Duration {
		d.Update()
		return d.interval
	}
}

// FormatLine renders the status line: "IDL: ..." while idle, "POW: d NN%, ..."
// while power is requested, followed by the four measurements and the
// filtered bus voltage.
func FormatLine(st core.Status) string {
	var b strings.Builder
	if st.Requested == core.ModePower {
		b.WriteString("POW: d ")
		for i := 0; i < st.Legs; i++ {
			if i > 0 {
				b.WriteString("/")
			}
			fmt.Fprintf(&b, "%3.0f%%", st.Duty[i]*100)
		}
		b.WriteString(", ")
	} else {
		b.WriteString("IDL: ")
	}
	m := st.Measurements
	fmt.Fprintf(&b, "Vl %5.2f V, Il %4.2f A | Vh %5.2f V, Ih %4.2f A, Vf %5.2f V",
		m[core.VLow].Value, m[core.ILow].Value, m[core.VHigh].Value, m[core.IHigh].Value, st.FilteredBus)
	return b.String()
}

// LineRenderer writes one status line per update.
type LineRenderer struct {
	out   io.Writer
	idle  *color.Color
	power *color.Color
}

// NewLineRenderer writes to out, coloring the mode prefix when useColor is set.
func NewLineRenderer(out io.Writer, useColor bool) *LineRenderer {
	r := &LineRenderer{
		out:   out,
		idle:  color.New(color.FgGreen),
		power: color.New(color.FgRed, color.Bold),
	}
	if useColor {
		r.idle.EnableColor()
		r.power.EnableColor()
	} else {
		r.idle.DisableColor()
		r.power.DisableColor()
	}
	return r
}

func (r *LineRenderer) Render(st core.Status) error {
	line := FormatLine(st)
	prefix, rest := line[:4], line[4:]
	c := r.idle
	if st.Requested == core.ModePower {
		c = r.power
	}
	_, err := fmt.Fprintf(r.out, "%s%s\n", c.Sprint(prefix), rest)
	return err
}

// Volts converts a measurement to a physical potential for display.
func Volts(v float64) physic.ElectricPotential {
	return physic.ElectricPotential(v * float64(physic.Volt))
}

// Amps converts a measurement to a physical current for display.
func Amps(a float64) physic.ElectricCurrent {
	return physic.ElectricCurrent(a * float64(physic.Ampere))
}

// Hertz converts a frequency for display.
func Hertz(f float64) physic.Frequency {
	return physic.Frequency(f * float64(physic.Hertz))
}

// Summary lists the labelled values the dashboard shows, in SI units.
func Summary(st core.Status) []string {
	m := st.Measurements
	lines := []string{
		fmt.Sprintf("Mode: requested %v, stage %v", st.Requested, st.Stage),
		fmt.Sprintf("Reference: %s, amplitude %.2f, offset %.2f", Hertz(st.Reference.FrequencyHz), st.Reference.Amplitude, st.Reference.Offset),
		fmt.Sprintf("Phase: %.3f rad", st.Phase),
	}
	for i := 0; i < st.Legs; i++ {
		lines = append(lines, fmt.Sprintf("Duty[%d]: %5.1f %%", i, st.Duty[i]*100))
	}
	lines = append(lines,
		fmt.Sprintf("V_LOW  %s%s", Volts(m[core.VLow].Value), stale(m[core.VLow])),
		fmt.Sprintf("I_LOW  %s%s", Amps(m[core.ILow].Value), stale(m[core.ILow])),
		fmt.Sprintf("V_HIGH %s%s (filtered %s)", Volts(m[core.VHigh].Value), stale(m[core.VHigh]), Volts(st.FilteredBus)),
		fmt.Sprintf("I_HIGH %s%s", Amps(m[core.IHigh].Value), stale(m[core.IHigh])),
		fmt.Sprintf("Cycles %d, overruns %d, clamped %d, starts %d, stops %d",
			st.Stats.Cycles, st.Stats.Overruns, st.Stats.DutyClamped, st.Stats.Starts, st.Stats.Stops),
	)
	return lines
}

func stale(m core.Measurement) string {
	if m.Valid {
		return ""
	}
	return " (no sample)"
}
