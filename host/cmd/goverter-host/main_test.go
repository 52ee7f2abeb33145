package main

import (
	"reflect"
	"strings"
	"testing"

	"goverter/config"
	"goverter/core"
	"goverter/host/rpi"
	"goverter/host/sim"
)

func TestParseLegs(t *testing.T) {
	legs, err := parseLegs("1, 2,3")
	if err != nil {
		t.Fatalf("parseLegs: %v", err)
	}
	if !reflect.DeepEqual(legs, []int{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", legs)
	}
	if _, err := parseLegs("1,x"); err == nil {
		t.Error("Expected error for a non-numeric leg")
	}
}

func TestOpenBackend(t *testing.T) {
	cfg := config.Default()
	hw, err := openBackend(cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if _, ok := hw.stage.(*sim.Stage); !ok {
		t.Errorf("Expected a sim stage, got %T", hw.stage)
	}

	cfg.Backend = "fpga"
	if _, err := openBackend(cfg); err == nil {
		t.Error("Expected error for an unknown backend")
	}
}

func TestOpenRPiRejectsPWMLayout(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"clock out of range", func(c *config.Config) { c.RPi.PWMHz = 200000 }, "outside"},
		{"shared channel", func(c *config.Config) {
			c.Legs = []int{1, 2}
			c.RPi.HighPins = []int{12, 18}
		}, "share PWM channel"},
		{"three legs", func(c *config.Config) {
			c.Legs = []int{1, 2, 3}
			c.RPi.HighPins = []int{12, 13, 19}
			c.RPi.LowPins = []int{5, 6, 16}
		}, "PWM channels"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = "rpi"
			tc.mutate(cfg)
			_, err := openBackend(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultRPiLayout(t *testing.T) {
	cfg := config.Default()
	if err := rpi.CheckPWM(cfg.RPi.HighPins, cfg.RPi.PWMHz); err != nil {
		t.Errorf("Default Pi layout rejected: %v", err)
	}
}

func TestTeeStage(t *testing.T) {
	a, b := sim.NewStage(), sim.NewStage()
	tee := teeStage{a, b}

	if err := tee.Init(core.Boost, core.AllLegs); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tee.SetDuty(core.Leg2, 0.3)
	tee.Start(core.AllLegs)
	for _, s := range []*sim.Stage{a, b} {
		if s.Conversion() != core.Boost || s.Duty(core.Leg2) != 0.3 || s.Enabled() != core.AllLegs {
			t.Errorf("Stage did not receive every command")
		}
	}
	tee.Stop(core.AllLegs)
	if a.Stops() != 1 || b.Stops() != 1 {
		t.Errorf("Expected one stop on each stage, got %d and %d", a.Stops(), b.Stops())
	}

	if err := (teeStage{sim.NewStage(), b}).Init(core.Buck, 0); err == nil {
		t.Error("Expected the first stage's error for an empty leg mask")
	}
}
