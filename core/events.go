package core

import "sync/atomic"

// EventKind tags an Event emitted by the control loop.
type EventKind uint8

// Event kind codes
const (
	EventStart       EventKind = iota + 1 // power stage started
	EventStop                             // power stage stopped
	EventDutyClamped                      // duty command outside the safe range
	EventOverrun                          // cycle finished after its next deadline
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	case EventDutyClamped:
		return "DUTY_CLAMPED"
	case EventOverrun:
		return "OVERRUN"
	default:
		return "UNKNOWN"
	}
}

// Event captures something the control loop wants reported outside of it.
type Event struct {
	Kind  EventKind
	Cycle uint64  // cycle counter at the event
	Leg   Leg     // EventDutyClamped only
	Value float64 // raw duty for EventDutyClamped, lateness in seconds for EventOverrun
}

// EventBufferSize is the number of events buffered before new ones are dropped.
const EventBufferSize = 64

// eventSink forwards events out of the control loop without blocking.
type eventSink struct {
	ch      chan Event
	dropped atomic.Uint64
}

// newEventSink returns a sink with no channel when size is zero; emit is
// then a no-op so the loop can run where channel operations are not allowed.
func newEventSink(size int) *eventSink {
	if size <= 0 {
		return &eventSink{}
	}
	return &eventSink{ch: make(chan Event, size)}
}

// emit queues an event; when nobody drains the channel the event is dropped.
func (s *eventSink) emit(e Event) {
	if s.ch == nil {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}
