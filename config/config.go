// Package config loads the controller configuration from YAML, TOML or JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"goverter/core"
)

// ErrUnknownFormat is returned by Load for an unsupported file extension.
var ErrUnknownFormat = errors.New("unknown config format")

// Config is the full host configuration.
type Config struct {
	PeriodUS    uint32  `yaml:"period_us" toml:"period_us" json:"period_us"`
	Legs        []int   `yaml:"legs" toml:"legs" json:"legs"`
	Conversion  string  `yaml:"conversion" toml:"conversion" json:"conversion"` // buck or boost
	FilterTauMS float64 `yaml:"filter_tau_ms" toml:"filter_tau_ms" json:"filter_tau_ms"`
	DutyMin     float64 `yaml:"duty_min" toml:"duty_min" json:"duty_min"`
	DutyMax     float64 `yaml:"duty_max" toml:"duty_max" json:"duty_max"`
	Waveform    string  `yaml:"waveform" toml:"waveform" json:"waveform"` // constant, flat or sine

	Reference ReferenceConfig `yaml:"reference" toml:"reference" json:"reference"`

	AmplitudeStep float64 `yaml:"amplitude_step" toml:"amplitude_step" json:"amplitude_step"`
	FrequencyStep float64 `yaml:"frequency_step" toml:"frequency_step" json:"frequency_step"`

	// Calibration is keyed by channel name: v_low, i_low, v_high, i_high.
	Calibration map[string]CalibrationConfig `yaml:"calibration" toml:"calibration" json:"calibration"`

	Backend string        `yaml:"backend" toml:"backend" json:"backend"` // sim or rpi
	Console ConsoleConfig `yaml:"console" toml:"console" json:"console"`
	Display DisplayConfig `yaml:"display" toml:"display" json:"display"`
	RPi     RPiConfig     `yaml:"rpi" toml:"rpi" json:"rpi"`
	Sim     SimConfig     `yaml:"sim" toml:"sim" json:"sim"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" toml:"log" json:"log"`
	RT      RTConfig      `yaml:"rt" toml:"rt" json:"rt"`
}

// ReferenceConfig holds the initial reference parameters.
type ReferenceConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz" toml:"frequency_hz" json:"frequency_hz"`
	Amplitude   float64 `yaml:"amplitude" toml:"amplitude" json:"amplitude"`
	Offset      float64 `yaml:"offset" toml:"offset" json:"offset"`
}

// CalibrationConfig converts raw samples: value = raw*gain + offset.
type CalibrationConfig struct {
	Gain   float64 `yaml:"gain" toml:"gain" json:"gain"`
	Offset float64 `yaml:"offset" toml:"offset" json:"offset"`
}

// ConsoleConfig selects where operator keys come from.
type ConsoleConfig struct {
	Source string `yaml:"source" toml:"source" json:"source"` // stdin, term or serial
	Port   string `yaml:"port" toml:"port" json:"port"`
	Baud   int    `yaml:"baud" toml:"baud" json:"baud"`
}

// DisplayConfig controls the status task.
type DisplayConfig struct {
	IntervalMS int  `yaml:"interval_ms" toml:"interval_ms" json:"interval_ms"`
	Color      bool `yaml:"color" toml:"color" json:"color"`
}

// RPiConfig maps legs to BCM pins on a Raspberry Pi.
type RPiConfig struct {
	HighPins []int `yaml:"high_pins" toml:"high_pins" json:"high_pins"` // PWM capable, one per leg
	LowPins  []int `yaml:"low_pins" toml:"low_pins" json:"low_pins"`   // complementary enable, one per leg
	LEDPin   int   `yaml:"led_pin" toml:"led_pin" json:"led_pin"`
	PWMHz    int   `yaml:"pwm_hz" toml:"pwm_hz" json:"pwm_hz"`       // switching frequency, 5 to 9600 Hz
}

// SimConfig parameterises the simulated plant.
type SimConfig struct {
	BusVoltage   float64 `yaml:"bus_voltage" toml:"bus_voltage" json:"bus_voltage"`
	LoadOhms     float64 `yaml:"load_ohms" toml:"load_ohms" json:"load_ohms"`
	SampleEvery  int     `yaml:"sample_every" toml:"sample_every" json:"sample_every"` // cycles between samples
	NoiseVoltage float64 `yaml:"noise_voltage" toml:"noise_voltage" json:"noise_voltage"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen" json:"listen"`
}

// LogConfig configures the leveled logger.
type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	File  string `yaml:"file" toml:"file" json:"file"`
}

// RTConfig tunes the OS thread of the control task. Priority 0 leaves the
// default scheduling policy.
type RTConfig struct {
	Priority   int  `yaml:"priority" toml:"priority" json:"priority"`
	CPU        int  `yaml:"cpu" toml:"cpu" json:"cpu"` // -1 for no pinning
	LockMemory bool `yaml:"lock_memory" toml:"lock_memory" json:"lock_memory"`
}

// Default returns the single-leg buck configuration on the simulated backend.
func Default() *Config {
	return &Config{
		PeriodUS:    100,
		Legs:        []int{1},
		Conversion:  "buck",
		FilterTauMS: 2,
		DutyMin:     0,
		DutyMax:     1,
		Waveform:    "constant",
		Reference: ReferenceConfig{
			FrequencyHz: 50,
			Amplitude:   0.5,
			Offset:      0.5,
		},
		AmplitudeStep: 0.05,
		FrequencyStep: 5,
		Backend:       "sim",
		Console: ConsoleConfig{
			Source: "stdin",
			Port:   "/dev/ttyACM0",
			Baud:   115200,
		},
		Display: DisplayConfig{
			IntervalMS: 200,
			Color:      true,
		},
		RPi: RPiConfig{
			HighPins: []int{12, 13},
			LowPins:  []int{5, 6},
			LEDPin:   24,
			PWMHz:    9600,
		},
		Sim: SimConfig{
			BusVoltage:   48,
			LoadOhms:     10,
			SampleEvery:  3,
			NoiseVoltage: 0.05,
		},
		Log: LogConfig{
			Level: "info",
		},
		RT: RTConfig{
			CPU: -1,
		},
	}
}

// Load reads a config file, choosing the decoder from its extension. Keys
// absent from the file keep their Default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := Decode(data, filepath.Ext(path), c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(c)
	return c, nil
}

// Decode unmarshals data in the format named by ext (".yaml", ".yml",
// ".toml" or ".json") into c.
func Decode(data []byte, ext string, c *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".toml":
		_, err := toml.Decode(string(data), c)
		return err
	case ".json":
		return json.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, ext)
	}
}

// applyDefaults fills values that have no meaningful zero
func applyDefaults(c *Config) {
	d := Default()
	if c.PeriodUS == 0 {
		c.PeriodUS = d.PeriodUS
	}
	if len(c.Legs) == 0 {
		c.Legs = d.Legs
	}
	if c.Conversion == "" {
		c.Conversion = d.Conversion
	}
	if c.Waveform == "" {
		c.Waveform = d.Waveform
	}
	if c.AmplitudeStep == 0 {
		c.AmplitudeStep = d.AmplitudeStep
	}
	if c.FrequencyStep == 0 {
		c.FrequencyStep = d.FrequencyStep
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Console.Source == "" {
		c.Console.Source = d.Console.Source
	}
	if c.Console.Baud == 0 {
		c.Console.Baud = d.Console.Baud
	}
	if c.Display.IntervalMS == 0 {
		c.Display.IntervalMS = d.Display.IntervalMS
	}
	if c.RPi.PWMHz == 0 {
		c.RPi.PWMHz = d.RPi.PWMHz
	}
	if c.Sim.SampleEvery == 0 {
		c.Sim.SampleEvery = d.Sim.SampleEvery
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks values that would otherwise fail later during bring-up.
func (c *Config) Validate() error {
	if c.PeriodUS == 0 {
		return core.ErrBadPeriod
	}
	if _, err := c.legs(); err != nil {
		return err
	}
	if _, err := ParseConversion(c.Conversion); err != nil {
		return err
	}
	if _, err := core.WaveformByName(c.Waveform); err != nil {
		return err
	}
	if c.DutyMin < 0 || c.DutyMax > 1 || c.DutyMin >= c.DutyMax {
		return fmt.Errorf("duty range [%g, %g] must satisfy 0 <= min < max <= 1", c.DutyMin, c.DutyMax)
	}
	ref := c.Reference
	for name, v := range map[string]float64{
		"frequency_hz": ref.FrequencyHz,
		"amplitude":    ref.Amplitude,
		"offset":       ref.Offset,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("reference.%s must be a finite number, got %g", name, v)
		}
	}
	if c.FilterTauMS < 0 {
		return fmt.Errorf("filter_tau_ms must not be negative: %g", c.FilterTauMS)
	}
	if c.AmplitudeStep <= 0 || c.FrequencyStep <= 0 {
		return errors.New("amplitude_step and frequency_step must be positive")
	}
	for name := range c.Calibration {
		if _, err := ParseChannel(name); err != nil {
			return err
		}
	}
	switch c.Backend {
	case "sim":
	case "rpi":
		for _, n := range c.Legs {
			if n > len(c.RPi.HighPins) || n > len(c.RPi.LowPins) {
				return fmt.Errorf("rpi backend has no high and low pin for leg %d", n)
			}
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Console.Source {
	case "stdin", "term", "serial":
	default:
		return fmt.Errorf("unknown console source %q", c.Console.Source)
	}
	if c.Display.IntervalMS < 0 {
		return fmt.Errorf("display interval must not be negative: %d", c.Display.IntervalMS)
	}
	return nil
}

// legs converts the 1-based leg numbers to core legs.
func (c *Config) legs() ([]core.Leg, error) {
	if len(c.Legs) == 0 || len(c.Legs) > core.MaxLegs {
		return nil, fmt.Errorf("legs: need 1 to %d legs, got %d", core.MaxLegs, len(c.Legs))
	}
	out := make([]core.Leg, 0, len(c.Legs))
	var seen core.LegMask
	for _, n := range c.Legs {
		if n < 1 || n > core.MaxLegs {
			return nil, fmt.Errorf("legs: leg %d out of range 1-%d", n, core.MaxLegs)
		}
		l := core.Leg(n - 1)
		if seen.Has(l) {
			return nil, fmt.Errorf("legs: leg %d listed twice", n)
		}
		seen |= l.Mask()
		out = append(out, l)
	}
	return out, nil
}

// Period returns the control period.
func (c *Config) Period() time.Duration {
	return core.TimerFromUS(c.PeriodUS)
}

// DisplayInterval returns the status task period.
func (c *Config) DisplayInterval() time.Duration {
	return time.Duration(c.Display.IntervalMS) * time.Millisecond
}

// ToSettings converts the configuration into controller settings.
func (c *Config) ToSettings() (core.Settings, error) {
	if err := c.Validate(); err != nil {
		return core.Settings{}, err
	}
	legs, _ := c.legs()
	conv, _ := ParseConversion(c.Conversion)
	wf, _ := core.WaveformByName(c.Waveform)

	s := core.Settings{
		Period:     c.Period(),
		Legs:       legs,
		Conversion: conv,
		FilterTau:  time.Duration(c.FilterTauMS * float64(time.Millisecond)),
		Limits:     core.DutyLimits{Min: c.DutyMin, Max: c.DutyMax},
		Waveform:   wf,
		Reference: core.Reference{
			FrequencyHz: c.Reference.FrequencyHz,
			Amplitude:   c.Reference.Amplitude,
			Offset:      c.Reference.Offset,
		},
	}
	if len(c.Calibration) > 0 {
		s.Calibration = make(map[core.ChannelID]core.ChannelCalibration, len(c.Calibration))
		for name, cal := range c.Calibration {
			id, _ := ParseChannel(name)
			s.Calibration[id] = core.ChannelCalibration{Gain: cal.Gain, Offset: cal.Offset}
		}
	}
	return s, nil
}

// ParseConversion maps "buck" or "boost" to a core conversion.
func ParseConversion(name string) (core.Conversion, error) {
	switch strings.ToLower(name) {
	case "buck":
		return core.Buck, nil
	case "boost":
		return core.Boost, nil
	}
	return 0, fmt.Errorf("unknown conversion %q", name)
}

// ParseChannel maps a channel name such as "v_high" to its ID.
func ParseChannel(name string) (core.ChannelID, error) {
	for id := core.ChannelID(0); id < core.NumChannels; id++ {
		if strings.EqualFold(id.String(), name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}
