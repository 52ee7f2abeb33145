//go:build linux

package rt

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Needs CAP_IPC_LOCK or a large enough RLIMIT_MEMLOCK.
func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

func pinCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// Needs CAP_SYS_NICE or root. pid 0 is the calling thread.
func setFIFO(priority int) error {
	attr := unix.SchedAttr{
		Size:     uint32(unsafe.Sizeof(unix.SchedAttr{})),
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}
