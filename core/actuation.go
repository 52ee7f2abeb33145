package core

import (
	"math"
	"sync/atomic"
)

// DutyLimits is the duty range the power stage accepts.
type DutyLimits struct {
	Min float64
	Max float64
}

// DefaultDutyLimits is the full PWM period.
var DefaultDutyLimits = DutyLimits{Min: 0, Max: 1}

// Clamp limits v to the range and reports whether it had to.
func (l DutyLimits) Clamp(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return l.Min, true
	case v < l.Min:
		return l.Min, true
	case v > l.Max:
		return l.Max, true
	}
	return v, false
}

// Actuator dispatches duty commands and edge commands to the power stage.
type Actuator struct {
	stage   PowerStage
	legs    [MaxLegs]Leg
	nlegs   int
	mask    LegMask
	limits  DutyLimits
	events  *eventSink
	cycle   *uint64
	applied [MaxLegs]atomic.Uint64

	violations atomic.Uint64
	starts     atomic.Uint64
	stops      atomic.Uint64
}

func newActuator(stage PowerStage, legs []Leg, limits DutyLimits, events *eventSink, cycle *uint64) *Actuator {
	a := &Actuator{
		stage:  stage,
		limits: limits,
		events: events,
		cycle:  cycle,
	}
	for _, l := range legs {
		a.legs[a.nlegs] = l
		a.nlegs++
		a.mask |= l.Mask()
	}
	return a
}

// Apply clamps each active leg's duty into the limits and sends it to the
// stage, one SetDuty call per leg. Out-of-range values are reported.
func (a *Actuator) Apply(duty *DutyCommand) {
	for i := 0; i < a.nlegs; i++ {
		v, clamped := a.limits.Clamp(duty.Values[i])
		if clamped {
			a.violations.Add(1)
			a.events.emit(Event{Kind: EventDutyClamped, Cycle: *a.cycle, Leg: a.legs[i], Value: duty.Values[i]})
		}
		a.stage.SetDuty(a.legs[i], v)
		a.applied[i].Store(math.Float64bits(v))
	}
}

// Start enables the active legs.
func (a *Actuator) Start() {
	a.stage.Start(a.mask)
	a.starts.Add(1)
	a.events.emit(Event{Kind: EventStart, Cycle: *a.cycle})
}

// Stop disables every leg of the shield.
func (a *Actuator) Stop() {
	a.stage.Stop(AllLegs)
	a.stops.Add(1)
	a.events.emit(Event{Kind: EventStop, Cycle: *a.cycle})
}

// Legs returns the mask of legs driven by this actuator.
func (a *Actuator) Legs() LegMask {
	return a.mask
}

// Applied returns the last duty value dispatched to the i-th active leg.
func (a *Actuator) Applied(i int) float64 {
	return math.Float64frombits(a.applied[i].Load())
}
