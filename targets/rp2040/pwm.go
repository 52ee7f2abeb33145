//go:build rp2040

package main

import (
	"errors"
	"machine"

	"goverter/core"
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
	SetInverting(channel uint8, inverting bool)
	Enable(enable bool)
}

// legPins puts leg n on slice n: the even GPIO is the high side switch
// (channel A), the odd GPIO the low side switch (channel B).
var legPins = [core.MaxLegs][2]machine.Pin{
	{machine.GPIO0, machine.GPIO1},
	{machine.GPIO2, machine.GPIO3},
	{machine.GPIO4, machine.GPIO5},
}

var errPWMChannel = errors.New("pwm: unexpected channel layout")

type pwmLeg struct {
	slice pwmPeripheral
	high  uint8
	low   uint8
}

// pwmStage drives each leg as a complementary pair on one PWM slice. Both
// channels compare against the same value and channel B is inverted, so the
// switches never conduct together. Dead time is left to the gate driver.
type pwmStage struct {
	periodNS uint64
	conv     core.Conversion
	legs     [core.MaxLegs]pwmLeg
	active   core.LegMask
}

func newPWMStage(switchingHz uint64) *pwmStage {
	return &pwmStage{periodNS: 1e9 / switchingHz}
}

func (s *pwmStage) Init(conv core.Conversion, legs core.LegMask) error {
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if !legs.Has(l) {
			continue
		}
		slice := slicePeripheral(uint8(l))
		if err := slice.Configure(machine.PWMConfig{Period: s.periodNS}); err != nil {
			return err
		}
		high, err := slice.Channel(legPins[l][0])
		if err != nil {
			return err
		}
		low, err := slice.Channel(legPins[l][1])
		if err != nil {
			return err
		}
		if high == low {
			return errPWMChannel
		}
		slice.SetInverting(low, true)
		slice.Set(high, 0)
		slice.Set(low, 0)
		slice.Enable(false)
		s.legs[l] = pwmLeg{slice: slice, high: high, low: low}
	}
	s.conv = conv
	s.active = legs
	return nil
}

func (s *pwmStage) Start(legs core.LegMask) {
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if legs.Has(l) && s.active.Has(l) {
			s.legs[l].slice.Enable(true)
		}
	}
}

func (s *pwmStage) Stop(legs core.LegMask) {
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if legs.Has(l) && s.active.Has(l) {
			leg := s.legs[l]
			leg.slice.Enable(false)
			leg.slice.Set(leg.high, 0)
			leg.slice.Set(leg.low, 0)
		}
	}
}

// SetDuty sets the conduction ratio of the switch: the high side in buck
// mode, the low side in boost mode.
func (s *pwmStage) SetDuty(leg core.Leg, duty float64) {
	if leg >= core.MaxLegs || !s.active.Has(leg) {
		return
	}
	if s.conv == core.Boost {
		duty = 1 - duty
	}
	l := s.legs[leg]
	v := uint32(duty * float64(l.slice.Top()))
	l.slice.Set(l.high, v)
	l.slice.Set(l.low, v)
}

// slicePeripheral returns PWM slice n (0-7)
func slicePeripheral(n uint8) pwmPeripheral {
	switch n & 0x7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
