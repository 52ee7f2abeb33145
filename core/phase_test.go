package core

import (
	"math"
	"testing"
)

// circularDistance is the shortest distance between two angles.
func circularDistance(a, b float64) float64 {
	d := math.Abs(WrapAngle(a) - WrapAngle(b))
	return math.Min(d, TwoPi-d)
}

func TestPhaseIncrement(t *testing.T) {
	g := NewPhaseGenerator(100e-6)
	got := g.Advance(50)
	if math.Abs(got-0.0314159) > 1e-6 {
		t.Errorf("Expected increment ~0.0314159, got %v", got)
	}
}

func TestPhaseFullRevolution(t *testing.T) {
	g := NewPhaseGenerator(100e-6)
	start := g.Angle()
	for i := 0; i < 200; i++ {
		g.Advance(50)
	}
	if d := circularDistance(g.Angle(), start); d > 1e-9 {
		t.Errorf("Expected return to start after 200 cycles, off by %v rad", d)
	}
}

func TestPhaseIgnoresNonFiniteFrequency(t *testing.T) {
	g := NewPhaseGenerator(100e-6)
	g.Advance(50)
	before := g.Angle()

	for _, f := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if got := g.Advance(f); got != before {
			t.Errorf("Advance(%v) moved the angle to %v", f, got)
		}
	}
	g.Advance(50)
	if d := circularDistance(g.Angle(), 2*0.0314159265); d > 1e-6 {
		t.Errorf("Expected the generator to resume, angle %v", g.Angle())
	}
}

func TestPhaseWrapInvariant(t *testing.T) {
	testCases := []struct {
		name   string
		freqs  []float64
		cycles int
	}{
		{"50Hz", []float64{50}, 100000},
		{"odd frequency", []float64{333.333}, 50000},
		{"negative", []float64{-60}, 50000},
		{"huge overshoot", []float64{1e7}, 1000},
		{"changing", []float64{0, 50, -20, 1e4, 7.5}, 20000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewPhaseGenerator(100e-6)
			for i := 0; i < tc.cycles; i++ {
				a := g.Advance(tc.freqs[i%len(tc.freqs)])
				if a < 0 || a >= TwoPi || math.IsNaN(a) {
					t.Fatalf("cycle %d: angle %v outside [0, 2π)", i, a)
				}
			}
		})
	}
}

func TestWrapAngle(t *testing.T) {
	testCases := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{TwoPi, 0},
		{TwoPi + 1, 1},
		{-1, TwoPi - 1},
		{-TwoPi, 0},
		{5*TwoPi + 0.25, 0.25},
	}
	for _, tc := range testCases {
		got := WrapAngle(tc.in)
		if got < 0 || got >= TwoPi {
			t.Errorf("WrapAngle(%v) = %v outside [0, 2π)", tc.in, got)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("WrapAngle(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if got := WrapAngle(-1e-18); got < 0 || got >= TwoPi {
		t.Errorf("WrapAngle(-1e-18) = %v outside [0, 2π)", got)
	}
}

func TestConstantWaveform(t *testing.T) {
	ref := Reference{FrequencyHz: 50, Amplitude: 0.42, Offset: 0.5}
	out := DutyCommand{Legs: 1}
	for _, angle := range []float64{0, 1, 3, 6} {
		ConstantWaveform{}.Compute(angle, ref, &out)
		if out.Values[0] != 0.42 {
			t.Errorf("angle %v: expected duty equal to amplitude, got %v", angle, out.Values[0])
		}
	}
}

func TestSineWaveformThreePhase(t *testing.T) {
	ref := Reference{Amplitude: 0.4, Offset: 0.5}
	out := DutyCommand{Legs: 3}

	SineWaveform{}.Compute(math.Pi/2, ref, &out)
	want := [3]float64{
		0.5 + 0.4*math.Sin(math.Pi/2),
		0.5 + 0.4*math.Sin(math.Pi/2+TwoPi/3),
		0.5 + 0.4*math.Sin(math.Pi/2+2*TwoPi/3),
	}
	for i := range want {
		if math.Abs(out.Values[i]-want[i]) > 1e-12 {
			t.Errorf("leg %d: got %v want %v", i, out.Values[i], want[i])
		}
	}

	// balanced set sums to three offsets at any angle
	for _, angle := range []float64{0, 0.3, 2, 5.9} {
		SineWaveform{}.Compute(angle, ref, &out)
		sum := out.Values[0] + out.Values[1] + out.Values[2]
		if math.Abs(sum-1.5) > 1e-12 {
			t.Errorf("angle %v: leg sum %v, want 1.5", angle, sum)
		}
	}
}

func TestWaveformByName(t *testing.T) {
	for _, name := range []string{"", "constant", "flat", "sine"} {
		if _, err := WaveformByName(name); err != nil {
			t.Errorf("WaveformByName(%q): %v", name, err)
		}
	}
	if _, err := WaveformByName("square"); err == nil {
		t.Error("Expected error for unknown waveform")
	}
}
