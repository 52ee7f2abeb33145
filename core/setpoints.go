package core

import (
	"math"
	"sync/atomic"
)

// Setpoints are the values the user interface writes and the control loop
// reads. Each field is an independent atomic, so a reader may observe one
// field already updated and another not yet; the loop tolerates that skew
// because every field is a standalone scalar.
type Setpoints struct {
	mode      atomic.Uint32
	frequency atomic.Uint64
	amplitude atomic.Uint64
	offset    atomic.Uint64
}

// NewSetpoints returns setpoints holding ref and requesting IDLE.
func NewSetpoints(ref Reference) *Setpoints {
	s := &Setpoints{}
	s.SetFrequency(ref.FrequencyHz)
	s.SetAmplitude(ref.Amplitude)
	s.SetOffset(ref.Offset)
	return s
}

// RequestMode sets the requested operating mode. Requests are never rejected.
func (s *Setpoints) RequestMode(m Mode) {
	s.mode.Store(uint32(m))
}

// Mode returns the requested operating mode.
func (s *Setpoints) Mode() Mode {
	return Mode(s.mode.Load())
}

// SetFrequency, SetAmplitude and SetOffset ignore NaN and infinite values.
func (s *Setpoints) SetFrequency(hz float64) {
	storeFinite(&s.frequency, hz)
}

func (s *Setpoints) Frequency() float64 {
	return math.Float64frombits(s.frequency.Load())
}

func (s *Setpoints) SetAmplitude(v float64) {
	storeFinite(&s.amplitude, v)
}

func (s *Setpoints) Amplitude() float64 {
	return math.Float64frombits(s.amplitude.Load())
}

func (s *Setpoints) SetOffset(v float64) {
	storeFinite(&s.offset, v)
}

func storeFinite(a *atomic.Uint64, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	a.Store(math.Float64bits(v))
}

func (s *Setpoints) Offset() float64 {
	return math.Float64frombits(s.offset.Load())
}

// AdjustAmplitude adds delta to the amplitude and returns the stored value.
// The user interface is the only writer, so load-then-store is sufficient.
func (s *Setpoints) AdjustAmplitude(delta float64) float64 {
	s.SetAmplitude(s.Amplitude() + delta)
	return s.Amplitude()
}

// AdjustFrequency adds delta to the frequency and returns the stored value.
func (s *Setpoints) AdjustFrequency(delta float64) float64 {
	s.SetFrequency(s.Frequency() + delta)
	return s.Frequency()
}

// Reference loads the three reference fields.
func (s *Setpoints) Reference() Reference {
	return Reference{
		FrequencyHz: s.Frequency(),
		Amplitude:   s.Amplitude(),
		Offset:      s.Offset(),
	}
}
