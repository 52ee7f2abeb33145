//go:build rp2040

package main

import (
	"machine"
	"math"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers/ina260"

	"goverter/core"
)

// Low side divider and shunt amplifier on ADC0/ADC1. machine.ADC.Get scales
// the 12-bit result to 16 bits.
const (
	adcFullScale    = 65535
	adcRefVolts     = 3.3
	vLowDivider     = 11.0 // 100k/10k
	iLowVoltsPerAmp = 0.4  // 20 V/V amplifier on a 20 mΩ shunt
)

// adcCalibration converts raw ADC counts into volts and amps.
func adcCalibration() map[core.ChannelID]core.ChannelCalibration {
	perCount := adcRefVolts / adcFullScale
	return map[core.ChannelID]core.ChannelCalibration{
		core.VLow: {Gain: perCount * vLowDivider},
		core.ILow: {Gain: perCount / iLowVoltsPerAmp},
	}
}

// busMonitor polls an INA260 on the high side bus. I2C transfers take far
// longer than a control period, so the loop only reads the latest values.
type busMonitor struct {
	dev     ina260.Device
	volts   atomic.Uint64
	amps    atomic.Uint64
	freshV  atomic.Bool
	freshI  atomic.Bool
	samples atomic.Uint32
}

func newBusMonitor(bus *machine.I2C) *busMonitor {
	m := &busMonitor{dev: ina260.New(bus)}
	m.dev.Configure(ina260.Config{
		AverageMode:     ina260.AVGMODE_4,
		VoltConvTime:    ina260.CONVTIME_332USEC,
		CurrentConvTime: ina260.CONVTIME_332USEC,
		Mode:            ina260.MODE_CONTINUOUS | ina260.MODE_VOLTAGE | ina260.MODE_CURRENT,
	})
	return m
}

// run polls the device every interval. It never returns.
func (m *busMonitor) run(interval time.Duration) {
	for {
		v := float64(m.dev.Voltage()) / 1e6 // µV
		i := float64(m.dev.Current()) / 1e6 // µA
		m.volts.Store(math.Float64bits(v))
		m.amps.Store(math.Float64bits(i))
		m.freshV.Store(true)
		m.freshI.Store(true)
		m.samples.Add(1)
		time.Sleep(interval)
	}
}

// boardSensor reads the low side from the on-chip ADC every cycle and the
// high side from the bus monitor when it has a new sample.
type boardSensor struct {
	vLow machine.ADC
	iLow machine.ADC
	bus  *busMonitor
}

func newBoardSensor(bus *busMonitor) *boardSensor {
	machine.InitADC()
	s := &boardSensor{
		vLow: machine.ADC{Pin: machine.ADC0},
		iLow: machine.ADC{Pin: machine.ADC1},
		bus:  bus,
	}
	s.vLow.Configure(machine.ADCConfig{})
	s.iLow.Configure(machine.ADCConfig{})
	return s
}

// ReadLatest runs in the control interrupt, the only user of the ADC.
func (s *boardSensor) ReadLatest(ch core.ChannelID) (float64, bool) {
	switch ch {
	case core.VLow:
		return float64(s.vLow.Get()), true
	case core.ILow:
		return float64(s.iLow.Get()), true
	case core.VHigh:
		if s.bus == nil || !s.bus.freshV.Swap(false) {
			return 0, false
		}
		return math.Float64frombits(s.bus.volts.Load()), true
	case core.IHigh:
		if s.bus == nil || !s.bus.freshI.Swap(false) {
			return 0, false
		}
		return math.Float64frombits(s.bus.amps.Load()), true
	}
	return 0, false
}
