package core

import (
	"math"
	"testing"
)

func TestIntakeHoldLastValue(t *testing.T) {
	in := NewIntake(100e-6, 2e-3)
	sensor := &MockSensor{}

	sensor.push(ILow, 1.25)
	in.Update(sensor)
	if v, ok := in.Value(ILow); !ok || v != 1.25 {
		t.Fatalf("Expected 1.25, got %v (valid=%v)", v, ok)
	}

	const n = 500
	sensor.pushMissing(ILow, n)
	for i := 0; i < n; i++ {
		in.Update(sensor)
		if v, _ := in.Value(ILow); v != 1.25 {
			t.Fatalf("cycle %d: held value changed to %v", i, v)
		}
	}

	sensor.push(ILow, -3)
	in.Update(sensor)
	if v, _ := in.Value(ILow); v != -3 {
		t.Errorf("Expected new sample -3 to overwrite, got %v", v)
	}
}

func TestIntakeNeverSampled(t *testing.T) {
	in := NewIntake(100e-6, 2e-3)
	in.Update(&MockSensor{})

	for id := ChannelID(0); id < NumChannels; id++ {
		if v, ok := in.Value(id); ok || v != 0 {
			t.Errorf("%v: expected zero and invalid, got %v valid=%v", id, v, ok)
		}
	}
}

func TestIntakeCalibration(t *testing.T) {
	in := NewIntake(100e-6, 2e-3)
	in.SetCalibration(VHigh, ChannelCalibration{Gain: 0.5, Offset: 1})

	sensor := &MockSensor{}
	sensor.push(VHigh, 10)
	sensor.push(VLow, 10)
	in.Update(sensor)

	if v, _ := in.Value(VHigh); v != 6 {
		t.Errorf("Expected calibrated 6, got %v", v)
	}
	if v, _ := in.Value(VLow); v != 10 {
		t.Errorf("Expected identity 10, got %v", v)
	}
}

func TestLowPassFilterSettling(t *testing.T) {
	testCases := []struct {
		name   string
		period float64
		tau    float64
		step   float64
	}{
		{"2ms at 100us", 100e-6, 2e-3, 48},
		{"5ms at 100us", 100e-6, 5e-3, 12},
		{"1ms at 50us", 50e-6, 1e-3, -7.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewLowPassFilter(tc.period, tc.tau)
			steps := int(math.Ceil(3 * tc.tau / tc.period))
			var y float64
			for i := 0; i < steps; i++ {
				y = f.Update(tc.step)
			}
			errRel := math.Abs(y-tc.step) / math.Abs(tc.step)
			if errRel >= 0.05 {
				t.Errorf("after %d steps output %v is %.2f%% away from %v", steps, y, errRel*100, tc.step)
			}
			// one time constant must not be settled yet
			g := NewLowPassFilter(tc.period, tc.tau)
			for i := 0; i < int(tc.tau/tc.period)-1; i++ {
				y = g.Update(tc.step)
			}
			if math.Abs(y-tc.step)/math.Abs(tc.step) < 0.3 {
				t.Errorf("filter settled too fast: %v after one time constant", y)
			}
		})
	}
}

func TestIntakeFiltersBusEveryCycle(t *testing.T) {
	in := NewIntake(100e-6, 2e-3)
	sensor := &MockSensor{}
	sensor.push(VHigh, 40)
	in.Update(sensor)
	first := in.FilteredBus()
	if first <= 0 || first >= 40 {
		t.Fatalf("Expected partial response, got %v", first)
	}

	// held value keeps driving the filter
	for i := 0; i < 100; i++ {
		in.Update(sensor)
	}
	if got := in.FilteredBus(); got <= first || got > 40 {
		t.Errorf("Expected filter to keep converging on the held value, got %v", got)
	}
	if raw, _ := in.Value(VHigh); raw != 40 {
		t.Errorf("raw bus value must stay unfiltered, got %v", raw)
	}
}
