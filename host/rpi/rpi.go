// Package rpi drives a power stage and the status LED from Raspberry Pi GPIO.
package rpi

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/op/go-logging"
	"github.com/stianeikeland/go-rpio/v4"

	"goverter/core"
)

var log = logging.MustGetLogger("rpi")

// cycleLen is the PWM counter range: duty resolution is 1/cycleLen.
const cycleLen = 1000

// The PWM clock is the 19.2 MHz oscillator divided by an integer from 2 to
// 4095, and the switching frequency is that clock over cycleLen.
const (
	oscillatorHz = 19200000
	minClockHz   = oscillatorHz / 4095
	maxClockHz   = oscillatorHz / 2

	MinPWMHz = (minClockHz + cycleLen - 1) / cycleLen
	MaxPWMHz = maxClockHz / cycleLen
)

// Channels is the number of hardware PWM channels. Pins on the same channel
// always carry the same duty, so the Pi drives at most two independent legs.
const Channels = 2

// PWMChannel returns the hardware PWM channel behind a BCM pin.
func PWMChannel(bcm int) (int, error) {
	switch bcm {
	case 12, 18, 40, 52:
		return 0, nil
	case 13, 19, 41, 45, 53:
		return 1, nil
	}
	return 0, fmt.Errorf("rpi: GPIO%d has no hardware PWM", bcm)
}

// CheckPWM verifies that each of the given switch pins, one per leg, is on its
// own PWM channel and that pwmHz is reachable by the PWM clock.
func CheckPWM(highPins []int, pwmHz int) error {
	if pwmHz < MinPWMHz || pwmHz > MaxPWMHz {
		return fmt.Errorf("rpi: PWM frequency %d Hz outside %d-%d Hz", pwmHz, MinPWMHz, MaxPWMHz)
	}
	if len(highPins) > Channels {
		return fmt.Errorf("rpi: %d legs requested, the Pi has %d PWM channels; use another backend for three legs", len(highPins), Channels)
	}
	used := make(map[int]int, Channels)
	for _, pin := range highPins {
		ch, err := PWMChannel(pin)
		if err != nil {
			return err
		}
		if other, ok := used[ch]; ok {
			return fmt.Errorf("rpi: GPIO%d and GPIO%d share PWM channel %d", other, pin, ch)
		}
		used[ch] = pin
	}
	return nil
}

// Pin is the subset of rpio.Pin the stage uses.
type Pin interface {
	Output()
	Pwm()
	High()
	Low()
	Toggle()
	Freq(freq int)
	DutyCycle(dutyLen, cycleLen uint32)
}

// rpioPin adapts rpio.Pin, whose methods have value receivers.
type rpioPin struct {
	pin rpio.Pin
}

func (p rpioPin) Output()               { p.pin.Output() }
func (p rpioPin) Pwm()                  { p.pin.Pwm() }
func (p rpioPin) High()                 { p.pin.High() }
func (p rpioPin) Low()                  { p.pin.Low() }
func (p rpioPin) Toggle()               { p.pin.Toggle() }
func (p rpioPin) Freq(freq int)         { p.pin.Freq(freq) }
func (p rpioPin) DutyCycle(d, c uint32) { p.pin.DutyCycle(d, c) }

// GPIO returns the BCM pin n.
func GPIO(n int) Pin {
	return rpioPin{pin: rpio.Pin(n)}
}

// Open maps the GPIO registers. It fails when not running on a Pi.
func Open() error {
	if !IsPi() {
		return errors.New("rpi: not running on a Raspberry Pi")
	}
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("rpi: open gpio: %w", err)
	}
	return nil
}

// Close unmaps the GPIO registers.
func Close() error {
	return rpio.Close()
}

// IsPi reports whether /proc/cpuinfo describes an ARM board.
func IsPi() bool {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "ARM") || strings.Contains(string(data), "Raspberry")
}

// Stage drives each leg with a PWM pin for the switch and an enable pin for
// the gate driver.
type Stage struct {
	high [core.MaxLegs]Pin
	low  [core.MaxLegs]Pin
	hz   int
	conv core.Conversion
	legs core.LegMask
}

// NewStage maps leg i to high[i] and low[i].
func NewStage(high, low []Pin, pwmHz int) (*Stage, error) {
	if len(high) != len(low) || len(high) == 0 || len(high) > Channels {
		return nil, fmt.Errorf("rpi: need 1 to %d high/low pin pairs, got %d/%d", Channels, len(high), len(low))
	}
	if pwmHz < MinPWMHz || pwmHz > MaxPWMHz {
		return nil, fmt.Errorf("rpi: PWM frequency %d Hz outside %d-%d Hz", pwmHz, MinPWMHz, MaxPWMHz)
	}
	s := &Stage{hz: pwmHz}
	copy(s.high[:], high)
	copy(s.low[:], low)
	return s, nil
}

// Init puts the legs' switch pins into PWM mode with gate drivers disabled.
func (s *Stage) Init(conv core.Conversion, legs core.LegMask) error {
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if !legs.Has(l) {
			continue
		}
		if s.high[l] == nil {
			return fmt.Errorf("rpi: no pins for %v", l)
		}
		s.low[l].Output()
		s.low[l].Low()
		s.high[l].Pwm()
		s.high[l].Freq(s.hz * cycleLen)
		s.high[l].DutyCycle(0, cycleLen)
	}
	s.conv = conv
	s.legs = legs
	log.Infof("rpi stage: %v on legs %03b at %d Hz", conv, legs, s.hz)
	return nil
}

func (s *Stage) Start(legs core.LegMask) {
	s.each(legs, func(l core.Leg) { s.low[l].High() })
}

func (s *Stage) Stop(legs core.LegMask) {
	s.each(legs, func(l core.Leg) {
		s.low[l].Low()
		s.high[l].DutyCycle(0, cycleLen)
	})
}

func (s *Stage) SetDuty(leg core.Leg, duty float64) {
	if leg >= core.MaxLegs || !s.legs.Has(leg) {
		return
	}
	s.high[leg].DutyCycle(dutyTicks(s.conv, duty), cycleLen)
}

func (s *Stage) each(legs core.LegMask, fn func(core.Leg)) {
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if legs.Has(l) && s.legs.Has(l) {
			fn(l)
		}
	}
}

// dutyTicks converts a duty fraction to counter ticks. In boost mode the
// switch is the low side, so the high side gets the complement.
func dutyTicks(conv core.Conversion, duty float64) uint32 {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	if conv == core.Boost {
		duty = 1 - duty
	}
	return uint32(duty*cycleLen + 0.5)
}

// LED is a status indicator on a GPIO pin.
type LED struct {
	pin Pin
}

// NewLED configures pin as an output.
func NewLED(pin Pin) *LED {
	pin.Output()
	return &LED{pin: pin}
}

func (l *LED) On()     { l.pin.High() }
func (l *LED) Toggle() { l.pin.Toggle() }
func (l *LED) Off()    { l.pin.Low() }
