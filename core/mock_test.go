package core

import "fmt"

// MockStage is a test implementation of PowerStage that records every call
type MockStage struct {
	calls   []string
	duties  map[Leg][]float64
	initErr error
	conv    Conversion
	inited  LegMask
}

func NewMockStage() *MockStage {
	return &MockStage{duties: make(map[Leg][]float64)}
}

func (m *MockStage) Init(conv Conversion, legs LegMask) error {
	m.conv = conv
	m.inited = legs
	return m.initErr
}

func (m *MockStage) Start(legs LegMask) {
	m.calls = append(m.calls, "start")
}

func (m *MockStage) Stop(legs LegMask) {
	m.calls = append(m.calls, "stop")
}

func (m *MockStage) SetDuty(leg Leg, duty float64) {
	m.calls = append(m.calls, "set_duty")
	m.duties[leg] = append(m.duties[leg], duty)
}

func (m *MockStage) count(call string) int {
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

// MockSensor returns queued samples per channel; an empty queue means no sample.
type MockSensor struct {
	queue [NumChannels][]*float64
}

func (m *MockSensor) push(ch ChannelID, v float64) {
	m.queue[ch] = append(m.queue[ch], &v)
}

func (m *MockSensor) pushMissing(ch ChannelID, n int) {
	for i := 0; i < n; i++ {
		m.queue[ch] = append(m.queue[ch], nil)
	}
}

func (m *MockSensor) ReadLatest(ch ChannelID) (float64, bool) {
	q := m.queue[ch]
	if len(q) == 0 {
		return 0, false
	}
	m.queue[ch] = q[1:]
	if q[0] == nil {
		return 0, false
	}
	return *q[0], true
}

// constSensor reports the same value on every channel, every read.
type constSensor float64

func (c constSensor) ReadLatest(ChannelID) (float64, bool) {
	return float64(c), true
}

func newTestController(stage PowerStage, sensor Sensor, mutate func(*Settings)) *Controller {
	s := DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	c, err := NewController(stage, sensor, s)
	if err != nil {
		panic(fmt.Sprintf("NewController: %v", err))
	}
	return c
}
