//go:build !linux

package workload

import "codeberg.org/mutker/cpuwatt/internal/errors"

func pinToCPU(int) error {
	errFactory := errors.New()
	return errFactory.WithMessage(errors.ErrNotImplemented, "CPU pinning is only supported on Linux")
}
