// Package sim provides a simulated power stage and sensor for bench runs
// without a power shield.
package sim

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/op/go-logging"

	"goverter/core"
)

var log = logging.MustGetLogger("sim")

// ErrNoLegs is returned by Stage.Init for an empty leg mask.
var ErrNoLegs = errors.New("sim: no legs to initialise")

// Stage is an in-memory power stage. Its state may be read from any goroutine.
type Stage struct {
	conv    atomic.Uint32
	inited  atomic.Uint32
	enabled atomic.Uint32
	duty    [core.MaxLegs]atomic.Uint64
	starts  atomic.Uint64
	stops   atomic.Uint64
}

// NewStage returns an uninitialised stage.
func NewStage() *Stage {
	return &Stage{}
}

func (s *Stage) Init(conv core.Conversion, legs core.LegMask) error {
	if legs == 0 {
		return ErrNoLegs
	}
	s.conv.Store(uint32(conv))
	s.inited.Store(uint32(legs))
	log.Infof("power stage init: %v, legs %03b", conv, legs)
	return nil
}

func (s *Stage) Start(legs core.LegMask) {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, old|uint32(legs&s.Initialised())) {
			break
		}
	}
	s.starts.Add(1)
}

func (s *Stage) Stop(legs core.LegMask) {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, old&^uint32(legs)) {
			break
		}
	}
	s.stops.Add(1)
}

func (s *Stage) SetDuty(leg core.Leg, duty float64) {
	if leg >= core.MaxLegs {
		return
	}
	s.duty[leg].Store(math.Float64bits(duty))
}

// Initialised returns the legs passed to Init.
func (s *Stage) Initialised() core.LegMask {
	return core.LegMask(s.inited.Load())
}

// Enabled returns the legs currently switching.
func (s *Stage) Enabled() core.LegMask {
	return core.LegMask(s.enabled.Load())
}

// Conversion returns the switch convention set at Init.
func (s *Stage) Conversion() core.Conversion {
	return core.Conversion(s.conv.Load())
}

// Duty returns the last duty written to leg.
func (s *Stage) Duty(leg core.Leg) float64 {
	return math.Float64frombits(s.duty[leg].Load())
}

// Starts and Stops count edge commands.
func (s *Stage) Starts() uint64 { return s.starts.Load() }
func (s *Stage) Stops() uint64  { return s.stops.Load() }

// Params describe the simulated plant.
type Params struct {
	BusVoltage  float64 // DC bus, volts
	LoadOhms    float64 // resistive load on the low side
	SampleEvery int     // a channel produces a sample every n reads
	Noise       float64 // voltage noise standard deviation
	Seed        uint64
}

// DefaultParams is a 48 V bus into 10 Ω with a sample every third cycle.
var DefaultParams = Params{
	BusVoltage:  48,
	LoadOhms:    10,
	SampleEvery: 3,
	Noise:       0.05,
	Seed:        1,
}

// Sensor derives averaged measurements from the stage state. Samples arrive
// intermittently so that the control loop holds the last value between them.
type Sensor struct {
	stage *Stage
	p     Params
	reads [core.NumChannels]int
	rng   *rand.Rand
}

// NewSensor observes stage. Only the control loop may call ReadLatest.
func NewSensor(stage *Stage, p Params) *Sensor {
	if p.SampleEvery < 1 {
		p.SampleEvery = 1
	}
	if p.LoadOhms <= 0 {
		p.LoadOhms = DefaultParams.LoadOhms
	}
	return &Sensor{
		stage: stage,
		p:     p,
		rng:   rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Sensor) ReadLatest(ch core.ChannelID) (float64, bool) {
	if ch >= core.NumChannels {
		return 0, false
	}
	s.reads[ch]++
	if s.reads[ch]%s.p.SampleEvery != 0 {
		return 0, false
	}

	vLow, iLow, vHigh, iHigh := s.operatingPoint()
	switch ch {
	case core.VLow:
		return vLow + s.noise(), true
	case core.ILow:
		return iLow, true
	case core.VHigh:
		return vHigh + s.noise(), true
	default:
		return iHigh, true
	}
}

// operatingPoint is the averaged steady state for the mean duty of the
// enabled legs.
func (s *Sensor) operatingPoint() (vLow, iLow, vHigh, iHigh float64) {
	vHigh = s.p.BusVoltage
	enabled := s.stage.Enabled()
	if enabled == 0 {
		return 0, 0, vHigh, 0
	}
	var sum float64
	var n int
	for l := core.Leg1; l < core.MaxLegs; l++ {
		if enabled.Has(l) {
			d := math.Min(math.Max(s.stage.Duty(l), 0), 1)
			sum += d
			n++
		}
	}
	d := sum / float64(n)
	if s.stage.Conversion() == core.Boost {
		d = 1 - d
	}
	vLow = d * vHigh
	iLow = vLow / s.p.LoadOhms
	iHigh = iLow * d
	return vLow, iLow, vHigh, iHigh
}

func (s *Sensor) noise() float64 {
	if s.p.Noise == 0 {
		return 0
	}
	return s.rng.NormFloat64() * s.p.Noise
}

// LED is a simulated indicator that logs its transitions.
type LED struct {
	lit atomic.Bool
}

func (l *LED) On() {
	if !l.lit.Swap(true) {
		log.Debug("led on")
	}
}

func (l *LED) Toggle() {
	for {
		old := l.lit.Load()
		if l.lit.CompareAndSwap(old, !old) {
			return
		}
	}
}

// Lit reports the LED state.
func (l *LED) Lit() bool {
	return l.lit.Load()
}
