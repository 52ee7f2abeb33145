package core

// Mode is the operating mode requested by the operator.
type Mode uint32

const (
	ModeIdle Mode = iota
	ModePower
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModePower:
		return "POWER"
	default:
		return "MODE?"
	}
}

// StageState is the enable state of the power stage as last commanded.
type StageState uint8

const (
	// StageIdle: no start issued, or stopped since the last start.
	StageIdle StageState = iota
	// StagePower: a start was issued and no stop followed it.
	StagePower
)

func (s StageState) String() string {
	if s == StagePower {
		return "POWER"
	}
	return "IDLE"
}

// Action is the edge command a transition asks the power stage for.
type Action uint8

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	default:
		return "none"
	}
}

type transition struct {
	next   StageState
	action Action
}

// transitions is indexed by [current state][requested mode]. Start and stop
// only appear on the edges, so holding a mode never repeats them.
var transitions = [2][2]transition{
	StageIdle: {
		ModeIdle:  {StageIdle, ActionNone},
		ModePower: {StagePower, ActionStart},
	},
	StagePower: {
		ModeIdle:  {StageIdle, ActionStop},
		ModePower: {StagePower, ActionNone},
	},
}

// Transition returns the next stage state and the edge action for a request.
// Unknown modes are treated as idle.
func Transition(state StageState, requested Mode) (StageState, Action) {
	if requested != ModePower {
		requested = ModeIdle
	}
	t := transitions[state][requested]
	return t.next, t.action
}

// ModeMachine owns the stage state and applies transitions once per cycle.
type ModeMachine struct {
	state StageState
}

// State returns the current stage state.
func (m *ModeMachine) State() StageState {
	return m.state
}

// Evaluate runs one cycle of the mode logic. In POWER the duty command is
// pushed every cycle before any start; the edge action follows.
func (m *ModeMachine) Evaluate(requested Mode, duty *DutyCommand, act *Actuator) Action {
	if requested == ModePower {
		act.Apply(duty)
	}

	next, action := Transition(m.state, requested)
	switch action {
	case ActionStart:
		act.Start()
	case ActionStop:
		act.Stop()
	}
	m.state = next
	return action
}
