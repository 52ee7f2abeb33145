package sim

import (
	"errors"
	"math"
	"testing"

	"goverter/core"
)

func noiseless() Params {
	p := DefaultParams
	p.Noise = 0
	return p
}

func TestStageEdges(t *testing.T) {
	s := NewStage()
	if err := s.Init(core.Buck, 0); !errors.Is(err, ErrNoLegs) {
		t.Errorf("Expected ErrNoLegs, got %v", err)
	}
	if err := s.Init(core.Boost, core.Leg1.Mask()|core.Leg2.Mask()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	s.Start(core.AllLegs)
	if s.Enabled() != core.Leg1.Mask()|core.Leg2.Mask() {
		t.Errorf("Start must only enable initialised legs, got %03b", s.Enabled())
	}
	s.Stop(core.AllLegs)
	if s.Enabled() != 0 {
		t.Errorf("Expected all legs stopped, got %03b", s.Enabled())
	}
	if s.Starts() != 1 || s.Stops() != 1 {
		t.Errorf("Unexpected counts %d/%d", s.Starts(), s.Stops())
	}
	if s.Conversion() != core.Boost {
		t.Errorf("Expected boost, got %v", s.Conversion())
	}
}

func TestSensorIntermittent(t *testing.T) {
	stage := NewStage()
	stage.Init(core.Buck, core.Leg1.Mask())
	p := noiseless()
	p.SampleEvery = 4
	sensor := NewSensor(stage, p)

	got := 0
	for i := 0; i < 40; i++ {
		if _, ok := sensor.ReadLatest(core.VHigh); ok {
			got++
		}
	}
	if got != 10 {
		t.Errorf("Expected 10 samples in 40 reads, got %d", got)
	}
}

func TestSensorOperatingPoint(t *testing.T) {
	testCases := []struct {
		name    string
		conv    core.Conversion
		duty    float64
		running bool
		wantVl  float64
	}{
		{"stopped", core.Buck, 0.5, false, 0},
		{"buck half", core.Buck, 0.5, true, 24},
		{"buck quarter", core.Buck, 0.25, true, 12},
		{"boost quarter", core.Boost, 0.25, true, 36},
		{"clamped", core.Buck, 1.7, true, 48},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stage := NewStage()
			stage.Init(tc.conv, core.Leg1.Mask())
			stage.SetDuty(core.Leg1, tc.duty)
			if tc.running {
				stage.Start(core.Leg1.Mask())
			}
			p := noiseless()
			p.SampleEvery = 1
			sensor := NewSensor(stage, p)

			vl, ok := sensor.ReadLatest(core.VLow)
			if !ok || math.Abs(vl-tc.wantVl) > 1e-9 {
				t.Errorf("V_LOW = %v (ok=%v), want %v", vl, ok, tc.wantVl)
			}
			il, _ := sensor.ReadLatest(core.ILow)
			if math.Abs(il-tc.wantVl/p.LoadOhms) > 1e-9 {
				t.Errorf("I_LOW = %v, want %v", il, tc.wantVl/p.LoadOhms)
			}
			if vh, _ := sensor.ReadLatest(core.VHigh); vh != 48 {
				t.Errorf("V_HIGH = %v, want 48", vh)
			}
		})
	}
}

func TestClosedLoopWithController(t *testing.T) {
	stage := NewStage()
	sensor := NewSensor(stage, noiseless())
	c, err := core.NewController(stage, sensor, core.DefaultSettings())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	c.Setpoints().RequestMode(core.ModePower)
	for i := 0; i < 300; i++ {
		c.Step()
	}
	if stage.Enabled() != core.Leg1.Mask() {
		t.Errorf("Expected LEG1 running, got %03b", stage.Enabled())
	}
	st := c.Snapshot()
	if v := st.Measurements[core.VLow].Value; math.Abs(v-24) > 1e-9 {
		t.Errorf("Expected V_LOW 24 at 50%% duty, got %v", v)
	}
	if math.Abs(st.FilteredBus-48) > 48*0.05 {
		t.Errorf("Expected filtered bus near 48 V, got %v", st.FilteredBus)
	}

	c.Setpoints().RequestMode(core.ModeIdle)
	c.Step()
	if stage.Enabled() != 0 || stage.Stops() != 1 {
		t.Errorf("Expected stage stopped once, enabled=%03b stops=%d", stage.Enabled(), stage.Stops())
	}
}

func TestNoiseIsDeterministic(t *testing.T) {
	p := DefaultParams
	p.SampleEvery = 1
	a := NewSensor(NewStage(), p)
	b := NewSensor(NewStage(), p)
	for i := 0; i < 10; i++ {
		va, _ := a.ReadLatest(core.VHigh)
		vb, _ := b.ReadLatest(core.VHigh)
		if va != vb {
			t.Fatalf("read %d: %v != %v with the same seed", i, va, vb)
		}
	}
}

func TestLED(t *testing.T) {
	var led LED
	led.On()
	led.On()
	if !led.Lit() {
		t.Error("Expected LED lit")
	}
	led.Toggle()
	if led.Lit() {
		t.Error("Expected LED off after toggle")
	}
}
