package workload

import (
	"fmt"

	"codeberg.org/mutker/cpuwatt/internal/errors"
)

// Range is the half-open iteration range [Start, End).
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of iterations in r.
func (r Range) Len() int64 {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Partition splits [0, total) into workers contiguous ranges. Every range but
// the last has total/workers iterations; the last absorbs the remainder.
func Partition(total int64, workers int) ([]Range, error) {
	errFactory := errors.New()
	if workers <= 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("worker count must be positive, got %d", workers))
	}
	if total < 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("iteration count must not be negative, got %d", total))
	}

	size := total / int64(workers)
	ranges := make([]Range, workers)
	for i := range ranges {
		start := int64(i) * size
		end := start + size
		if i == workers-1 {
			end = total
		}
		ranges[i] = Range{Start: start, End: end}
	}

	return ranges, nil
}
