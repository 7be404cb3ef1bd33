//go:build linux

package workload

import (
	"golang.org/x/sys/unix"

	"codeberg.org/mutker/cpuwatt/internal/errors"
)

// pinToCPU binds the calling OS thread to cpu.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		errFactory := errors.New()
		return errFactory.Wrap(errors.ErrOperationFailed, err).WithMessage("sched_setaffinity failed")
	}
	return nil
}
