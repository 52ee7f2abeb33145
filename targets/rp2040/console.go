//go:build rp2040

package main

import (
	"fmt"
	"io"
	"machine"
	"time"

	"goverter/core"
)

const (
	amplitudeStep = 0.05
	frequencyStep = 5.0 // Hz
)

const menu = `
+----------------------------------------+
| goverter                               |
|  h  help menu                          |
|  i  idle mode                          |
|  p  power mode                         |
|  u  amplitude UP                       |
|  j  amplitude DOWN                     |
|  f  frequency UP                       |
|  v  frequency DOWN                     |
+----------------------------------------+
`

// keyConsole reads single characters from the serial console. The host
// build uses host/console, which pulls in the leveled logger this target
// cannot link.
type keyConsole struct {
	uart machine.Serialer
	out  io.Writer
	setp *core.Setpoints
}

// handle applies one key and echoes the result. Unknown keys are ignored.
func (c *keyConsole) handle(key byte) {
	switch key {
	case 'h':
		io.WriteString(c.out, menu)
	case 'i':
		c.setp.RequestMode(core.ModeIdle)
		io.WriteString(c.out, "Idle mode request\r\n")
	case 'p':
		c.setp.RequestMode(core.ModePower)
		fmt.Fprintf(c.out, "Power mode request (amplitude %.2f)\r\n", c.setp.Amplitude())
	case 'u':
		fmt.Fprintf(c.out, "Amplitude UP (%.2f)\r\n", c.setp.AdjustAmplitude(amplitudeStep))
	case 'j':
		fmt.Fprintf(c.out, "Amplitude DOWN (%.2f)\r\n", c.setp.AdjustAmplitude(-amplitudeStep))
	case 'f':
		fmt.Fprintf(c.out, "Frequency UP (%.1f Hz)\r\n", c.setp.AdjustFrequency(frequencyStep))
	case 'v':
		fmt.Fprintf(c.out, "Frequency DOWN (%.1f Hz)\r\n", c.setp.AdjustFrequency(-frequencyStep))
	}
}

// task drains the receive buffer, then sleeps for a poll interval.
func (c *keyConsole) task() core.BackgroundFunc {
	return func() time.Duration {
		for c.uart.Buffered() > 0 {
			key, err := c.uart.ReadByte()
			if err != nil {
				break
			}
			c.handle(key)
		}
		return 50 * time.Millisecond
	}
}

// statusTask prints the status line and drives the indicator: steady while
// idle, blinking while power is requested.
func statusTask(ctrl *core.Controller, led machine.Pin, out io.Writer) core.BackgroundFunc {
	return func() time.Duration {
		st := ctrl.Snapshot()
		if st.Requested == core.ModePower {
			led.Set(!led.Get())
			fmt.Fprintf(out, "POW: d %3.0f%%, ", st.Duty[0]*100)
		} else {
			led.High()
			io.WriteString(out, "IDL: ")
		}
		m := st.Measurements
		fmt.Fprintf(out, "Vl %5.2f V, Il %4.2f A | Vh %5.2f V, Ih %4.2f A, Vf %5.2f V, ovr %d\r\n",
			m[core.VLow].Value, m[core.ILow].Value, m[core.VHigh].Value, m[core.IHigh].Value, st.FilteredBus,
			st.Stats.Overruns)
		return 200 * time.Millisecond
	}
}
