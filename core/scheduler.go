package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// TimerResult tells the dispatcher what to do with a timer after its handler ran.
type TimerResult uint8

const (
	TimerDone       TimerResult = 0
	TimerReschedule TimerResult = 1
)

// Timer represents a scheduled event in the critical context.
type Timer struct {
	WakeTime time.Duration // clock time the handler is due
	Handler  func(*Timer) TimerResult
	Next     *Timer
}

// Finished is returned by a background function that has no more work.
const Finished time.Duration = -1

// BackgroundFunc runs one iteration of a background task and returns how long
// to suspend before the next one. Zero yields and runs again immediately.
type BackgroundFunc func() time.Duration

type backgroundTask struct {
	name string
	fn   BackgroundFunc
}

// Scheduler runs periodic tasks in one critical context and background tasks
// in their own goroutines. Periodic callbacks are never invoked concurrently
// with each other.
type Scheduler struct {
	clock      Clock
	timerList  *Timer
	periodic   []*periodicTask
	background []backgroundTask
	running    atomic.Bool
	overruns   atomic.Uint64

	// OnOverrun is called from the critical context when a periodic task
	// finishes after its next deadline. Missed ticks are skipped.
	OnOverrun func(late time.Duration)

	// Setup runs on the critical goroutine's locked OS thread before the
	// first dispatch, e.g. to raise its scheduling priority.
	Setup func() error
}

var (
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrNoPeriodicTask   = errors.New("no periodic task registered")
)

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// RegisterPeriodic adds fn to the critical context, invoked every period.
func (s *Scheduler) RegisterPeriodic(fn func(), period time.Duration) error {
	if period <= 0 {
		return ErrBadPeriod
	}
	if s.running.Load() {
		return ErrSchedulerRunning
	}
	p := &periodicTask{sched: s, fn: fn, period: period}
	p.timer.Handler = p.fire
	p.timer.WakeTime = s.clock.Now() + period
	s.insertTimer(&p.timer)
	s.periodic = append(s.periodic, p)
	return nil
}

// RegisterBackground adds a cooperative background task.
func (s *Scheduler) RegisterBackground(name string, fn BackgroundFunc) error {
	if s.running.Load() {
		return ErrSchedulerRunning
	}
	s.background = append(s.background, backgroundTask{name: name, fn: fn})
	return nil
}

// Overruns returns how many periodic invocations ended after their next deadline.
func (s *Scheduler) Overruns() uint64 {
	return s.overruns.Load()
}

// Run starts every registered task and blocks until ctx is cancelled, or the
// critical context fails, and all tasks have returned. Background tasks
// blocked in I/O must be unblocked by their owner when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.periodic) == 0 {
		return ErrNoPeriodicTask
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range s.background {
		wg.Add(1)
		go func(t backgroundTask) {
			defer wg.Done()
			s.runBackground(ctx, t)
		}(t)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.runCritical(ctx)
	}()
	err := <-errCh
	cancel()
	wg.Wait()
	return err
}

func (s *Scheduler) runBackground(ctx context.Context, t backgroundTask) {
	for {
		if ctx.Err() != nil {
			return
		}
		d := t.fn()
		switch {
		case d == Finished:
			return
		case d <= 0:
			runtime.Gosched()
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCritical owns the timer list for the rest of the run.
func (s *Scheduler) runCritical(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if s.Setup != nil {
		if err := s.Setup(); err != nil {
			return err
		}
	}
	s.anchor()

	done := ctx.Done()
	for {
		select {
		case <-done:
			return nil
		default:
		}
		if s.timerList == nil {
			return nil
		}
		s.clock.SleepUntil(s.timerList.WakeTime)
		s.dispatch()
	}
}

// anchor schedules the first invocation of every periodic task one period
// from now, so time spent between registration and Run is not an overrun.
func (s *Scheduler) anchor() {
	s.timerList = nil
	now := s.clock.Now()
	for _, p := range s.periodic {
		p.timer.Next = nil
		p.timer.WakeTime = now + p.period
		s.insertTimer(&p.timer)
	}
}

// insertTimer inserts a timer in sorted order by WakeTime
func (s *Scheduler) insertTimer(t *Timer) {
	if s.timerList == nil || t.WakeTime < s.timerList.WakeTime {
		t.Next = s.timerList
		s.timerList = t
		return
	}

	current := s.timerList
	for current.Next != nil && current.Next.WakeTime <= t.WakeTime {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// dispatch runs every timer that is due at the current clock time.
func (s *Scheduler) dispatch() {
	now := s.clock.Now()
	for s.timerList != nil && s.timerList.WakeTime <= now {
		timer := s.timerList
		s.timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == TimerReschedule {
			s.insertTimer(timer)
		}
	}
}

type periodicTask struct {
	sched  *Scheduler
	fn     func()
	period time.Duration
	timer  Timer
}

func (p *periodicTask) fire(t *Timer) TimerResult {
	p.fn()

	next := t.WakeTime + p.period
	now := p.sched.clock.Now()
	if now > next {
		late := now - next
		next += (late/p.period + 1) * p.period
		p.sched.overruns.Add(1)
		if p.sched.OnOverrun != nil {
			p.sched.OnOverrun(late)
		}
	}
	t.WakeTime = next
	return TimerReschedule
}
