//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"time"
	"unsafe"

	"goverter/core"
)

// RP2040 timer peripheral, a free running 64-bit microsecond counter with
// four 32-bit alarms. The TinyGo runtime sleeps on alarm 0, the control loop
// owns alarm 1.
const (
	timerBase     = 0x40054000
	timerALARM1   = timerBase + 0x14
	timerARMED    = timerBase + 0x20
	timerTIMERAWH = timerBase + 0x24 // raw high word, no latching
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
	timerINTR     = timerBase + 0x34 // write 1 to clear
	timerINTE     = timerBase + 0x38

	alarm1Bit = 1 << 1
)

var (
	timerRAWH   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	timerAlarm1 = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM1)))
	timerArmed  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerARMED)))
	timerIntr   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	timerInte   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

// uptimeUS reads the 64-bit counter, retrying when the low word wraps
// between the two reads.
func uptimeUS() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// controlTicker runs the control step from the alarm 1 interrupt so console
// and I2C work in thread mode can never delay it.
type controlTicker struct {
	step    func()
	overrun func(time.Duration)
	period  uint64 // µs
	next    uint64 // deadline of the next step
}

var ticker controlTicker

// startTicker arms the first deadline one period from now. step and overrun
// run in interrupt context: they must not block or allocate.
func startTicker(period time.Duration, step func(), overrun func(time.Duration)) {
	ticker = controlTicker{
		step:    step,
		overrun: overrun,
		period:  uint64(period / time.Microsecond),
	}
	ticker.next = uptimeUS() + ticker.period

	intr := interrupt.New(rp.IRQ_TIMER_IRQ_1, alarmHandler)
	intr.SetPriority(0)
	timerInte.SetBits(alarm1Bit)
	intr.Enable()
	ticker.arm()
}

func alarmHandler(interrupt.Interrupt) {
	timerIntr.Set(alarm1Bit)
	ticker.fire()
}

// fire runs one step and schedules the next on the fixed grid. A step that
// ends after the next deadline skips the missed slots.
func (t *controlTicker) fire() {
	t.step()
	t.next += t.period
	if now := uptimeUS(); now > t.next {
		t.skip(now)
	}
	t.arm()
}

func (t *controlTicker) skip(now uint64) {
	late := now - t.next
	t.next += (late/t.period + 1) * t.period
	t.overrun(time.Duration(late) * time.Microsecond)
}

// arm loads the low word of the deadline. The alarm only matches on
// equality, so a deadline that passed while arming is disarmed and skipped.
func (t *controlTicker) arm() {
	for {
		timerAlarm1.Set(uint32(t.next))
		now := uptimeUS()
		if now < t.next || timerArmed.Get()&alarm1Bit == 0 {
			return
		}
		timerArmed.Set(alarm1Bit)
		t.skip(now)
	}
}

// runBackground calls each task when it is due and sleeps in between. It
// never returns; tasks that return core.Finished are dropped.
func runBackground(tasks ...core.BackgroundFunc) {
	due := make([]uint64, len(tasks))
	for {
		now := uptimeUS()
		wake := now + uint64(time.Second/time.Microsecond)
		for i, task := range tasks {
			if task == nil {
				continue
			}
			if due[i] <= now {
				d := task()
				if d == core.Finished {
					tasks[i] = nil
					continue
				}
				due[i] = uptimeUS() + uint64(d/time.Microsecond)
			}
			if due[i] < wake {
				wake = due[i]
			}
		}
		if now = uptimeUS(); wake > now {
			time.Sleep(time.Duration(wake-now) * time.Microsecond)
		}
	}
}
