package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

// nopStage accepts every call without recording.
type nopStage struct{}

func (nopStage) Init(Conversion, LegMask) error { return nil }
func (nopStage) Start(LegMask)                  {}
func (nopStage) Stop(LegMask)                   {}
func (nopStage) SetDuty(Leg, float64)           {}

func TestNewControllerValidation(t *testing.T) {
	initErr := errors.New("gate driver fault")

	testCases := []struct {
		name    string
		mutate  func(*Settings)
		initErr error
		wantErr error
	}{
		{"zero period", func(s *Settings) { s.Period = 0 }, nil, ErrBadPeriod},
		{"negative period", func(s *Settings) { s.Period = -time.Millisecond }, nil, ErrBadPeriod},
		{"no legs", func(s *Settings) { s.Legs = nil }, nil, ErrNoLegs},
		{"too many legs", func(s *Settings) { s.Legs = []Leg{Leg1, Leg2, Leg3, Leg1} }, nil, nil},
		{"duplicate leg", func(s *Settings) { s.Legs = []Leg{Leg2, Leg2} }, nil, nil},
		{"unknown leg", func(s *Settings) { s.Legs = []Leg{Leg(9)} }, nil, nil},
		{"inverted limits", func(s *Settings) { s.Limits = DutyLimits{Min: 0.8, Max: 0.2} }, nil, nil},
		{"infinite frequency", func(s *Settings) { s.Reference.FrequencyHz = math.Inf(1) }, nil, nil},
		{"nan offset", func(s *Settings) { s.Reference.Offset = math.NaN() }, nil, nil},
		{"init failure", nil, initErr, initErr},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			if tc.mutate != nil {
				tc.mutate(&s)
			}
			stage := NewMockStage()
			stage.initErr = tc.initErr

			c, err := NewController(stage, &MockSensor{}, s)
			if err == nil {
				t.Fatalf("Expected error, got controller %v", c)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewControllerInitialisesStage(t *testing.T) {
	stage := NewMockStage()
	c := newTestController(stage, &MockSensor{}, func(s *Settings) {
		s.Conversion = Boost
		s.Legs = []Leg{Leg2}
		s.Waveform = nil
	})
	if stage.conv != Boost || stage.inited != Leg2.Mask() {
		t.Errorf("Expected boost init on LEG2, got %v %b", stage.conv, stage.inited)
	}
	if c.Conversion() != Boost {
		t.Errorf("Conversion() = %v", c.Conversion())
	}
	if c.Snapshot().Stage != StageIdle {
		t.Error("Expected controller to start in IDLE")
	}
	if len(stage.calls) != 0 {
		t.Errorf("Init must not start the stage, got %v", stage.calls)
	}
}

func TestStepOrdering(t *testing.T) {
	sensor := &MockSensor{}
	stage := NewMockStage()
	c := newTestController(stage, sensor, nil)

	// measurement of a cycle is visible right after that cycle
	sensor.push(VLow, 12)
	c.Step()
	if v, _ := c.Intake().Value(VLow); v != 12 {
		t.Errorf("Expected intake to run in the same cycle, got %v", v)
	}

	// setpoint change is used by the very next step
	c.Setpoints().SetAmplitude(0.3)
	c.Setpoints().RequestMode(ModePower)
	c.Step()
	if got := stage.duties[Leg1]; len(got) != 1 || got[0] != 0.3 {
		t.Errorf("Expected duty 0.3 on first POWER cycle, got %v", got)
	}

	st := c.Snapshot()
	if st.Stats.Cycles != 2 {
		t.Errorf("Expected 2 cycles, got %d", st.Stats.Cycles)
	}
	wantPhase := WrapAngle(2 * TwoPi * 50 * 100e-6)
	if math.Abs(st.Phase-wantPhase) > 1e-12 {
		t.Errorf("Expected phase %v, got %v", wantPhase, st.Phase)
	}
}

func TestStepDoesNotAllocate(t *testing.T) {
	c := newTestController(nopStage{}, constSensor(24), func(s *Settings) {
		s.Legs = []Leg{Leg1, Leg2, Leg3}
		s.Waveform = SineWaveform{}
	})

	for _, m := range []Mode{ModeIdle, ModePower} {
		c.Setpoints().RequestMode(m)
		allocs := testing.AllocsPerRun(1000, c.Step)
		if allocs != 0 {
			t.Errorf("%v: Step allocated %v times per run", m, allocs)
		}
	}

	// toggling emits events; a full channel must not allocate either
	toggle := ModeIdle
	allocs := testing.AllocsPerRun(1000, func() {
		toggle ^= 1
		c.Setpoints().RequestMode(toggle)
		c.Step()
	})
	if allocs != 0 {
		t.Errorf("toggling Step allocated %v times per run", allocs)
	}
	if c.Stats().EventsDropped == 0 {
		t.Error("Expected dropped events with nobody draining the channel")
	}
}

func TestShutdown(t *testing.T) {
	stage := NewMockStage()
	c := newTestController(stage, &MockSensor{}, nil)

	c.Shutdown()
	if stage.count("stop") != 0 {
		t.Error("Shutdown in IDLE must not stop the stage")
	}

	c.Setpoints().RequestMode(ModePower)
	c.Step()
	c.Shutdown()
	if stage.count("stop") != 1 {
		t.Errorf("Expected one stop on shutdown, got %d", stage.count("stop"))
	}
	if c.Snapshot().Stage != StageIdle {
		t.Error("Expected IDLE after shutdown")
	}

	// the loop must restart the stage if POWER is still requested
	c.Step()
	if stage.count("start") != 2 {
		t.Errorf("Expected restart after shutdown, got %d starts", stage.count("start"))
	}
}

func TestSnapshotMeasurements(t *testing.T) {
	c := newTestController(NewMockStage(), constSensor(48), nil)
	c.Step()

	st := c.Snapshot()
	for id := ChannelID(0); id < NumChannels; id++ {
		m := st.Measurements[id]
		if !m.Valid || m.Value != 48 {
			t.Errorf("%v: expected valid 48, got %+v", id, m)
		}
	}
	if st.FilteredBus <= 0 || st.FilteredBus >= 48 {
		t.Errorf("Expected filtered bus between 0 and 48, got %v", st.FilteredBus)
	}
	if st.Legs != 1 || st.Requested != ModeIdle {
		t.Errorf("Unexpected snapshot %+v", st)
	}
}

func TestNoteOverrun(t *testing.T) {
	c := newTestController(NewMockStage(), &MockSensor{}, nil)
	c.Step()
	c.NoteOverrun(30 * time.Microsecond)

	if got := c.Stats().Overruns; got != 1 {
		t.Errorf("Expected 1 overrun, got %d", got)
	}
	ev := <-c.Events()
	if ev.Kind != EventOverrun || ev.Cycle != 1 {
		t.Errorf("Unexpected event %+v", ev)
	}
	if math.Abs(ev.Value-30e-6) > 1e-12 {
		t.Errorf("Expected lateness 30µs, got %v", ev.Value)
	}
}

func TestSetpointAdjust(t *testing.T) {
	c := newTestController(NewMockStage(), &MockSensor{}, nil)
	sp := c.Setpoints()

	if got := sp.AdjustAmplitude(0.05); math.Abs(got-0.55) > 1e-12 {
		t.Errorf("Expected amplitude 0.55, got %v", got)
	}
	if got := sp.AdjustFrequency(-5); got != 45 {
		t.Errorf("Expected frequency 45, got %v", got)
	}
	ref := sp.Reference()
	if ref.FrequencyHz != 45 || ref.Offset != 0.5 {
		t.Errorf("Unexpected reference %+v", ref)
	}
}

func TestNonFiniteSetpointsIgnored(t *testing.T) {
	c := newTestController(NewMockStage(), &MockSensor{}, func(s *Settings) {
		s.Legs = []Leg{Leg1, Leg2, Leg3}
		s.Waveform = SineWaveform{}
	})
	sp := c.Setpoints()
	sp.RequestMode(ModePower)

	sp.SetFrequency(math.Inf(1))
	sp.SetAmplitude(math.NaN())
	sp.SetOffset(math.Inf(-1))
	if ref := sp.Reference(); ref != DefaultSettings().Reference {
		t.Errorf("Expected reference unchanged, got %+v", ref)
	}

	for i := 0; i < 1000; i++ {
		c.Step()
	}
	st := c.Snapshot()
	if st.Phase < 0 || st.Phase >= TwoPi || math.IsNaN(st.Phase) {
		t.Errorf("Phase %v left [0, 2π)", st.Phase)
	}
	if st.Stats.DutyClamped != 0 {
		t.Errorf("Expected no clamping, got %d", st.Stats.DutyClamped)
	}
}

func TestSnapshotLegIDs(t *testing.T) {
	c := newTestController(NewMockStage(), &MockSensor{}, func(s *Settings) {
		s.Legs = []Leg{Leg3, Leg2}
	})
	c.Step()

	st := c.Snapshot()
	if st.Legs != 2 {
		t.Fatalf("Expected 2 legs, got %d", st.Legs)
	}
	for i, want := range []Leg{Leg3, Leg2} {
		if st.LegIDs[i] != want {
			t.Errorf("Duty[%d]: expected %v, got %v", i, want, st.LegIDs[i])
		}
	}
}

func TestNoEventsStillCounts(t *testing.T) {
	c := newTestController(NewMockStage(), &MockSensor{}, func(s *Settings) {
		s.NoEvents = true
		s.Limits = DutyLimits{Min: 0.1, Max: 0.9}
		s.Reference.Amplitude = 0.95
	})
	if c.Events() != nil {
		t.Fatal("Expected no event channel")
	}

	c.Setpoints().RequestMode(ModePower)
	c.Step()
	c.NoteOverrun(20 * time.Microsecond)
	c.Setpoints().RequestMode(ModeIdle)
	c.Step()

	st := c.Stats()
	if st.Starts != 1 || st.Stops != 1 || st.DutyClamped != 1 || st.Overruns != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if st.EventsDropped != 0 {
		t.Errorf("Expected no dropped events, got %d", st.EventsDropped)
	}
}
