package core

import (
	"math"
	"sync/atomic"
)

// Channel holds the last known value of one measurement.
// Only the intake writes it; display code reads it concurrently.
type Channel struct {
	ID    ChannelID
	bits  atomic.Uint64
	valid atomic.Bool
}

// Value returns the last stored value and whether a sample was ever received.
func (c *Channel) Value() (float64, bool) {
	return math.Float64frombits(c.bits.Load()), c.valid.Load()
}

func (c *Channel) store(v float64) {
	c.bits.Store(math.Float64bits(v))
	c.valid.Store(true)
}

// ChannelCalibration converts a raw sample into a physical value.
type ChannelCalibration struct {
	Gain   float64
	Offset float64
}

// IdentityCalibration leaves samples unchanged.
var IdentityCalibration = ChannelCalibration{Gain: 1}

func (c ChannelCalibration) apply(raw float64) float64 {
	return raw*c.Gain + c.Offset
}

// LowPassFilter is a single-pole low-pass filter advanced once per period.
type LowPassFilter struct {
	tau   float64
	alpha float64
	acc   float64
	out   atomic.Uint64
}

// NewLowPassFilter builds a filter for a time constant tau sampled every period
// (both in seconds).
func NewLowPassFilter(period, tau float64) *LowPassFilter {
	f := &LowPassFilter{tau: tau}
	if tau <= 0 {
		f.alpha = 1
	} else {
		f.alpha = 1 - math.Exp(-period/tau)
	}
	return f
}

// Update feeds one input sample and returns the new output.
func (f *LowPassFilter) Update(x float64) float64 {
	f.acc += f.alpha * (x - f.acc)
	f.out.Store(math.Float64bits(f.acc))
	return f.acc
}

// Output returns the last filtered value. Safe for concurrent readers.
func (f *LowPassFilter) Output() float64 {
	return math.Float64frombits(f.out.Load())
}

// TimeConstant returns tau in seconds.
func (f *LowPassFilter) TimeConstant() float64 {
	return f.tau
}

// Intake pulls the latest sample of every channel once per cycle.
type Intake struct {
	channels    [NumChannels]Channel
	calibration [NumChannels]ChannelCalibration
	busFilter   *LowPassFilter
}

// NewIntake creates an intake whose bus voltage filter uses tau seconds.
func NewIntake(period, tau float64) *Intake {
	in := &Intake{busFilter: NewLowPassFilter(period, tau)}
	for i := range in.channels {
		in.channels[i].ID = ChannelID(i)
		in.calibration[i] = IdentityCalibration
	}
	return in
}

// SetCalibration installs a conversion for a channel. Call before the loop starts.
func (in *Intake) SetCalibration(ch ChannelID, cal ChannelCalibration) {
	in.calibration[ch] = cal
}

// Update refreshes every channel from the sensor. A missing sample keeps the
// previous value; a present sample always overwrites it.
func (in *Intake) Update(s Sensor) {
	for i := range in.channels {
		ch := &in.channels[i]
		if raw, ok := s.ReadLatest(ch.ID); ok {
			ch.store(in.calibration[i].apply(raw))
		}
	}

	bus, _ := in.channels[VHigh].Value()
	in.busFilter.Update(bus)
}

// Channel returns the stored state of one channel.
func (in *Intake) Channel(id ChannelID) *Channel {
	return &in.channels[id]
}

// Value is shorthand for Channel(id).Value().
func (in *Intake) Value(id ChannelID) (float64, bool) {
	return in.channels[id].Value()
}

// FilteredBus returns the low-pass filtered bus voltage, for display only.
func (in *Intake) FilteredBus() float64 {
	return in.busFilter.Output()
}
