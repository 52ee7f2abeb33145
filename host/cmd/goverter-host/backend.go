package main

import (
	"fmt"

	"goverter/config"
	"goverter/core"
	"goverter/host/rpi"
	"goverter/host/sim"
	"goverter/host/status"
)

// backend is the hardware the controller drives.
type backend struct {
	stage  core.PowerStage
	sensor core.Sensor
	led    status.Indicator
	close  func() error
}

func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Backend {
	case "sim":
		return openSim(cfg), nil
	case "rpi":
		return openRPi(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func simParams(cfg *config.Config) sim.Params {
	p := sim.DefaultParams
	p.BusVoltage = cfg.Sim.BusVoltage
	p.LoadOhms = cfg.Sim.LoadOhms
	p.SampleEvery = cfg.Sim.SampleEvery
	p.Noise = cfg.Sim.NoiseVoltage
	return p
}

func openSim(cfg *config.Config) *backend {
	stage := sim.NewStage()
	return &backend{
		stage:  stage,
		sensor: sim.NewSensor(stage, simParams(cfg)),
		led:    &sim.LED{},
		close:  func() error { return nil },
	}
}

// openRPi drives the Pi pins. The Pi has no analog inputs, so measurements
// come from the simulated plant fed with the same commands.
func openRPi(cfg *config.Config) (*backend, error) {
	if len(cfg.RPi.HighPins) != len(cfg.RPi.LowPins) {
		return nil, fmt.Errorf("rpi: %d high pins but %d low pins", len(cfg.RPi.HighPins), len(cfg.RPi.LowPins))
	}
	var legPins []int
	for _, n := range cfg.Legs {
		if n < 1 || n > len(cfg.RPi.HighPins) {
			return nil, fmt.Errorf("rpi: no pins for leg %d", n)
		}
		legPins = append(legPins, cfg.RPi.HighPins[n-1])
	}
	if err := rpi.CheckPWM(legPins, cfg.RPi.PWMHz); err != nil {
		return nil, err
	}
	if err := rpi.Open(); err != nil {
		return nil, err
	}

	high := make([]rpi.Pin, len(cfg.RPi.HighPins))
	low := make([]rpi.Pin, len(cfg.RPi.LowPins))
	for i := range high {
		high[i] = rpi.GPIO(cfg.RPi.HighPins[i])
		low[i] = rpi.GPIO(cfg.RPi.LowPins[i])
	}
	stage, err := rpi.NewStage(high, low, cfg.RPi.PWMHz)
	if err != nil {
		rpi.Close()
		return nil, err
	}

	shadow := sim.NewStage()
	return &backend{
		stage:  teeStage{stage, shadow},
		sensor: sim.NewSensor(shadow, simParams(cfg)),
		led:    rpi.NewLED(rpi.GPIO(cfg.RPi.LEDPin)),
		close:  rpi.Close,
	}, nil
}

// teeStage forwards every command to both stages. Init errors from the
// first stage win.
type teeStage [2]core.PowerStage

func (t teeStage) Init(conv core.Conversion, legs core.LegMask) error {
	for _, s := range t {
		if err := s.Init(conv, legs); err != nil {
			return err
		}
	}
	return nil
}

func (t teeStage) Start(legs core.LegMask) {
	for _, s := range t {
		s.Start(legs)
	}
}

func (t teeStage) Stop(legs core.LegMask) {
	for _, s := range t {
		s.Stop(legs)
	}
}

func (t teeStage) SetDuty(leg core.Leg, duty float64) {
	for _, s := range t {
		s.SetDuty(leg, duty)
	}
}
