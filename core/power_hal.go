package core

// Leg identifies one switching half-bridge of the converter.
type Leg uint8

const (
	Leg1 Leg = iota
	Leg2
	Leg3
)

// MaxLegs is the number of legs on the power shield.
const MaxLegs = 3

// LegMask addresses a set of legs in a single driver call.
type LegMask uint8

// AllLegs addresses every leg on the shield.
const AllLegs LegMask = 1<<MaxLegs - 1

// Mask returns the LegMask addressing only this leg.
func (l Leg) Mask() LegMask {
	return 1 << l
}

// Has reports whether leg l is part of the mask.
func (m LegMask) Has(l Leg) bool {
	return m&l.Mask() != 0
}

func (l Leg) String() string {
	switch l {
	case Leg1:
		return "LEG1"
	case Leg2:
		return "LEG2"
	case Leg3:
		return "LEG3"
	default:
		return "LEG?"
	}
}

// Conversion selects the switch convention used when the stage is initialised.
type Conversion uint8

const (
	// Buck drives the high-side switch with the duty cycle.
	Buck Conversion = iota
	// Boost drives the low-side switch with the duty cycle.
	Boost
)

func (c Conversion) String() string {
	if c == Boost {
		return "boost"
	}
	return "buck"
}

// PowerStage is the abstract power-stage driver the control core uses.
// Platform-specific implementations handle PWM generation.
//
// Start and Stop are not assumed to be idempotent on the hardware; the core
// only calls them on a mode edge. Start, Stop and SetDuty are assumed to
// succeed once Init has returned nil.
type PowerStage interface {
	// Init configures the PWM units of the given legs for a conversion mode.
	Init(conv Conversion, legs LegMask) error

	// Start enables switching on the given legs.
	Start(legs LegMask)

	// Stop disables switching on the given legs.
	Stop(legs LegMask)

	// SetDuty sets the duty cycle of one leg as a fraction of the PWM period.
	SetDuty(leg Leg, duty float64)
}
