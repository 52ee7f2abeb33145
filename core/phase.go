package core

import (
	"fmt"
	"math"
)

// TwoPi is one revolution in radians.
const TwoPi = 2 * math.Pi

// Reference holds the operator-adjustable reference parameters.
type Reference struct {
	FrequencyHz float64
	Amplitude   float64
	Offset      float64
}

func (r Reference) finite() bool {
	for _, v := range [...]float64{r.FrequencyHz, r.Amplitude, r.Offset} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PhaseGenerator integrates a frequency into a phase angle in [0, 2π).
type PhaseGenerator struct {
	period float64
	angle  float64
}

// NewPhaseGenerator creates a generator stepped every period seconds.
func NewPhaseGenerator(period float64) *PhaseGenerator {
	return &PhaseGenerator{period: period}
}

// Advance performs one forward-Euler step at freqHz and returns the new angle.
// A non-finite step leaves the angle where it was.
func (g *PhaseGenerator) Advance(freqHz float64) float64 {
	step := TwoPi * freqHz * g.period
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return g.angle
	}
	g.angle = WrapAngle(g.angle + step)
	return g.angle
}

// Angle returns the current phase angle.
func (g *PhaseGenerator) Angle() float64 {
	return g.angle
}

// WrapAngle reduces a into [0, 2π) for any magnitude and sign.
func WrapAngle(a float64) float64 {
	a = math.Mod(a, TwoPi)
	if a < 0 {
		a += TwoPi
	}
	// a tiny negative remainder can round up to exactly 2π
	if a >= TwoPi {
		a = 0
	}
	return a
}

// DutyCommand carries one duty value per active leg.
type DutyCommand struct {
	Legs   int
	Values [MaxLegs]float64
}

// Waveform derives the duty command from the phase angle and reference.
type Waveform interface {
	Compute(angle float64, ref Reference, out *DutyCommand)
}

// ConstantWaveform drives every active leg with the amplitude, independent
// of phase. With one leg this is the DC/DC design; with three legs it is the
// flat placeholder of the three-phase design.
type ConstantWaveform struct{}

func (ConstantWaveform) Compute(_ float64, ref Reference, out *DutyCommand) {
	for i := 0; i < out.Legs; i++ {
		out.Values[i] = ref.Amplitude
	}
}

// SineWaveform produces offset + amplitude*sin(angle + k*2π/legs) on leg k.
// With three legs the phases are 120° apart.
type SineWaveform struct{}

func (SineWaveform) Compute(angle float64, ref Reference, out *DutyCommand) {
	if out.Legs == 0 {
		return
	}
	step := TwoPi / float64(out.Legs)
	for k := 0; k < out.Legs; k++ {
		out.Values[k] = ref.Offset + ref.Amplitude*math.Sin(angle+float64(k)*step)
	}
}

// WaveformByName resolves a configured waveform name.
func WaveformByName(name string) (Waveform, error) {
	switch name {
	case "", "constant", "flat":
		return ConstantWaveform{}, nil
	case "sine":
		return SineWaveform{}, nil
	default:
		return nil, fmt.Errorf("unknown waveform %q", name)
	}
}
