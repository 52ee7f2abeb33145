// Control loop orchestrator
// Composes measurement intake, phase generation, mode logic and actuation
// into the single operation the scheduler calls every period.
package core

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

var (
	// ErrBadPeriod is returned for a non-positive control period.
	ErrBadPeriod = errors.New("control period must be positive")
	// ErrNoLegs is returned when no leg is configured.
	ErrNoLegs = errors.New("at least one leg is required")
)

// Settings configure a Controller.
type Settings struct {
	Period     time.Duration // control task period
	Legs       []Leg         // legs driven by the loop
	Conversion Conversion    // switch convention given to the stage at init
	FilterTau  time.Duration // bus voltage display filter time constant
	Limits     DutyLimits    // safe duty range
	Waveform   Waveform      // nil selects ConstantWaveform
	Reference  Reference     // initial reference parameters

	// Calibration overrides the identity conversion of individual channels.
	Calibration map[ChannelID]ChannelCalibration

	// NoEvents disables the event channel, for loops stepped from an
	// interrupt handler. Stats still count every event.
	NoEvents bool
}

// DefaultSettings returns the single-leg DC/DC defaults: 100 µs period,
// LEG1 in buck mode, 50% duty.
func DefaultSettings() Settings {
	return Settings{
		Period:     100 * time.Microsecond,
		Legs:       []Leg{Leg1},
		Conversion: Buck,
		FilterTau:  2 * time.Millisecond,
		Limits:     DefaultDutyLimits,
		Waveform:   ConstantWaveform{},
		Reference:  Reference{FrequencyHz: 50, Amplitude: 0.5, Offset: 0.5},
	}
}

// Measurement is a channel value as seen by a reader.
type Measurement struct {
	Value float64
	Valid bool // false until the first sample arrives
}

// Stats are counters maintained by the control loop.
type Stats struct {
	Cycles        uint64
	Starts        uint64
	Stops         uint64
	DutyClamped   uint64
	Overruns      uint64
	EventsDropped uint64
}

// Status is a snapshot for display. Fields are loaded one at a time while the
// loop keeps running, so they may come from different cycles.
type Status struct {
	Requested    Mode
	Stage        StageState
	Reference    Reference
	Phase        float64
	Legs         int
	LegIDs       [MaxLegs]Leg // leg driven by each Duty entry
	Duty         [MaxLegs]float64
	Measurements [NumChannels]Measurement
	FilteredBus  float64
	Stats        Stats
}

// Controller owns every piece of control state. Step must only be called from
// one goroutine; Setpoints, Snapshot and Events may be used from any other.
type Controller struct {
	period   time.Duration
	conv     Conversion
	sensor   Sensor
	intake   *Intake
	phase    *PhaseGenerator
	waveform Waveform
	machine  ModeMachine
	act      *Actuator
	events   *eventSink
	setp     *Setpoints

	cycle uint64
	duty  DutyCommand

	// published copies for readers
	cycles   atomic.Uint64
	angle    atomic.Uint64
	stage    atomic.Uint32
	overruns atomic.Uint64
}

// NewController validates the settings, initialises the power stage for the
// configured legs and returns a controller in IDLE.
func NewController(stage PowerStage, sensor Sensor, s Settings) (*Controller, error) {
	if s.Period <= 0 {
		return nil, ErrBadPeriod
	}
	if len(s.Legs) == 0 {
		return nil, ErrNoLegs
	}
	if len(s.Legs) > MaxLegs {
		return nil, fmt.Errorf("%d legs configured, shield has %d", len(s.Legs), MaxLegs)
	}
	var seen LegMask
	for _, l := range s.Legs {
		if l >= MaxLegs {
			return nil, fmt.Errorf("invalid leg %d", l)
		}
		if seen.Has(l) {
			return nil, fmt.Errorf("leg %v configured twice", l)
		}
		seen |= l.Mask()
	}
	if !(s.Limits.Min < s.Limits.Max) {
		return nil, fmt.Errorf("invalid duty limits [%g, %g]", s.Limits.Min, s.Limits.Max)
	}
	if !s.Reference.finite() {
		return nil, fmt.Errorf("reference %+v is not finite", s.Reference)
	}
	for id := range s.Calibration {
		if id >= NumChannels {
			return nil, fmt.Errorf("calibration for unknown channel %d", id)
		}
	}
	if s.Waveform == nil {
		s.Waveform = ConstantWaveform{}
	}

	// only the configured legs: a stage may have no pins for the others
	if err := stage.Init(s.Conversion, seen); err != nil {
		return nil, fmt.Errorf("power stage init: %w", err)
	}

	periodSec := s.Period.Seconds()
	c := &Controller{
		period:   s.Period,
		conv:     s.Conversion,
		sensor:   sensor,
		intake:   NewIntake(periodSec, s.FilterTau.Seconds()),
		phase:    NewPhaseGenerator(periodSec),
		waveform: s.Waveform,
		events:   newEventSink(eventBuffer(s.NoEvents)),
		setp:     NewSetpoints(s.Reference),
	}
	for id, cal := range s.Calibration {
		c.intake.SetCalibration(id, cal)
	}
	c.duty.Legs = len(s.Legs)
	c.act = newActuator(stage, s.Legs, s.Limits, c.events, &c.cycle)
	return c, nil
}

// Step runs one control cycle: intake, phase and duty, then mode logic with
// actuation. It never blocks and does not allocate.
func (c *Controller) Step() {
	c.cycle++

	c.intake.Update(c.sensor)

	ref := c.setp.Reference()
	angle := c.phase.Advance(ref.FrequencyHz)
	c.waveform.Compute(angle, ref, &c.duty)

	c.machine.Evaluate(c.setp.Mode(), &c.duty, c.act)

	c.angle.Store(math.Float64bits(angle))
	c.stage.Store(uint32(c.machine.State()))
	c.cycles.Store(c.cycle)
}

// NoteOverrun records that a cycle ended late. The scheduler calls it from
// the control context.
func (c *Controller) NoteOverrun(late time.Duration) {
	c.overruns.Add(1)
	c.events.emit(Event{Kind: EventOverrun, Cycle: c.cycle, Value: late.Seconds()})
}

// Shutdown stops the stage if it is enabled. Call it only once the scheduler
// no longer invokes Step.
func (c *Controller) Shutdown() {
	if c.machine.State() != StagePower {
		return
	}
	c.act.Stop()
	c.machine.state = StageIdle
	c.stage.Store(uint32(StageIdle))
}

// Setpoints returns the operator write surface.
func (c *Controller) Setpoints() *Setpoints {
	return c.setp
}

// Events returns the channel the loop reports events on. Events are dropped
// when it is not drained. It is nil when Settings.NoEvents is set.
func (c *Controller) Events() <-chan Event {
	return c.events.ch
}

// Intake exposes the measurement state.
func (c *Controller) Intake() *Intake {
	return c.intake
}

// Period returns the control period.
func (c *Controller) Period() time.Duration {
	return c.period
}

// Conversion returns the switch convention the stage was initialised with.
func (c *Controller) Conversion() Conversion {
	return c.conv
}

// Stats loads the loop counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Cycles:        c.cycles.Load(),
		Starts:        c.act.starts.Load(),
		Stops:         c.act.stops.Load(),
		DutyClamped:   c.act.violations.Load(),
		Overruns:      c.overruns.Load(),
		EventsDropped: c.events.dropped.Load(),
	}
}

// Snapshot loads a display view of the controller.
func (c *Controller) Snapshot() Status {
	st := Status{
		Requested:   c.setp.Mode(),
		Stage:       StageState(c.stage.Load()),
		Reference:   c.setp.Reference(),
		Phase:       math.Float64frombits(c.angle.Load()),
		Legs:        c.act.nlegs,
		FilteredBus: c.intake.FilteredBus(),
		Stats:       c.Stats(),
	}
	for i := 0; i < st.Legs; i++ {
		st.LegIDs[i] = c.act.legs[i]
		st.Duty[i] = c.act.Applied(i)
	}
	for id := ChannelID(0); id < NumChannels; id++ {
		v, ok := c.intake.Value(id)
		st.Measurements[id] = Measurement{Value: v, Valid: ok}
	}
	return st
}

func eventBuffer(disabled bool) int {
	if disabled {
		return 0
	}
	return EventBufferSize
}
