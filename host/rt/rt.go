// Package rt tunes the OS thread that runs the control loop.
package rt

import (
	"fmt"

	"github.com/op/go-logging"

	"goverter/config"
)

var log = logging.MustGetLogger("rt")

// MaxPriority is the highest SCHED_FIFO priority accepted.
const MaxPriority = 99

// Apply configures the calling thread. It must run on a thread locked with
// runtime.LockOSThread, so it is meant for core.Scheduler.Setup.
func Apply(c config.RTConfig) error {
	if c.Priority < 0 || c.Priority > MaxPriority {
		return fmt.Errorf("rt: priority %d outside 0..%d", c.Priority, MaxPriority)
	}
	if c.LockMemory {
		if err := lockMemory(); err != nil {
			return fmt.Errorf("rt: lock memory: %w", err)
		}
		log.Info("memory locked")
	}
	if c.CPU >= 0 {
		if err := pinCPU(c.CPU); err != nil {
			return fmt.Errorf("rt: pin to cpu %d: %w", c.CPU, err)
		}
		log.Infof("control thread pinned to cpu %d", c.CPU)
	}
	if c.Priority > 0 {
		if err := setFIFO(c.Priority); err != nil {
			return fmt.Errorf("rt: SCHED_FIFO %d: %w", c.Priority, err)
		}
		log.Infof("control thread running SCHED_FIFO priority %d", c.Priority)
	}
	return nil
}
