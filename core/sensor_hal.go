package core

// ChannelID identifies a measurement channel of the power shield.
type ChannelID uint8

const (
	// VLow is the low-side leg voltage.
	VLow ChannelID = iota
	// ILow is the low-side leg current.
	ILow
	// VHigh is the DC bus voltage.
	VHigh
	// IHigh is the DC bus current.
	IHigh

	NumChannels
)

func (c ChannelID) String() string {
	switch c {
	case VLow:
		return "V_LOW"
	case ILow:
		return "I_LOW"
	case VHigh:
		return "V_HIGH"
	case IHigh:
		return "I_HIGH"
	default:
		return "CH?"
	}
}

// Sensor is the abstract measurement interface the control core uses.
// Implementations are fed by the sampling driver at their own rate.
type Sensor interface {
	// ReadLatest returns the most recent sample of a channel. ok is false
	// when no new sample arrived since the previous read. It must not block.
	ReadLatest(ch ChannelID) (value float64, ok bool)
}
