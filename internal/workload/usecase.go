package workload

import (
	"math"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/errors"
)

// UseCase selects the compute routine every worker runs. The numeric values
// match the positional CLI argument.
type UseCase int

const (
	Increment UseCase = iota + 1
	Recurrence
	Transcendental
	BusyWait
)

// DefaultBusyWaitDelay is how long the busy-wait routine spins per iteration.
const DefaultBusyWaitDelay = 100 * time.Millisecond

var useCaseNames = map[UseCase]string{
	Increment:      "increment",
	Recurrence:     "recurrence",
	Transcendental: "transcendental",
	BusyWait:       "busywait",
}

// UseCases returns every known use case in numeric order.
func UseCases() []UseCase {
	return []UseCase{Increment, Recurrence, Transcendental, BusyWait}
}

func (u UseCase) String() string {
	if name, ok := useCaseNames[u]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(u)) + ")"
}

// Valid reports whether u is one of the known use cases.
func (u UseCase) Valid() bool {
	_, ok := useCaseNames[u]
	return ok
}

// ParseUseCase accepts a use case name or its number.
func ParseUseCase(s string) (UseCase, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if n, err := strconv.Atoi(s); err == nil {
		if u := UseCase(n); u.Valid() {
			return u, nil
		}
	}

	for u, name := range useCaseNames {
		if s == name {
			return u, nil
		}
	}

	errFactory := errors.New()
	return 0, errFactory.WithMessage(errors.ErrInvalidConfig, "unknown use case: "+strconv.Quote(s))
}

// Routine is a compute strategy run by a worker over its range. The set of
// implementations is closed.
type Routine interface {
	Run(r Range) float64
	routine()
}

// NewRoutine returns the routine for u. busyWaitDelay only applies to BusyWait
// and falls back to DefaultBusyWaitDelay when not positive.
func NewRoutine(u UseCase, busyWaitDelay time.Duration) (Routine, error) {
	switch u {
	case Increment:
		return increment{}, nil
	case Recurrence:
		return recurrence{}, nil
	case Transcendental:
		return transcendental{}, nil
	case BusyWait:
		if busyWaitDelay <= 0 {
			busyWaitDelay = DefaultBusyWaitDelay
		}
		return busyWait{delay: busyWaitDelay}, nil
	default:
		errFactory := errors.New()
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "unknown use case: "+u.String())
	}
}

type increment struct{}

func (increment) routine() {}

func (increment) Run(r Range) float64 {
	var sum float64
	for i := r.Start; i < r.End; i++ {
		sum++
	}
	return sum
}

type recurrence struct{}

func (recurrence) routine() {}

func (recurrence) Run(r Range) float64 {
	var sum float64
	for i := r.Start; i < r.End; i++ {
		sum += float64(i*2 - 3)
	}
	return sum
}

type transcendental struct{}

func (transcendental) routine() {}

func (transcendental) Run(r Range) float64 {
	var sum float64
	for i := r.Start; i < r.End; i++ {
		x := float64(i)
		sum += x*x + math.Log(x+1)
	}
	return sum
}

// busyWait spins without yielding to simulate blocking work that still holds
// the CPU. The sum is left unchanged.
type busyWait struct {
	delay time.Duration
}

func (busyWait) routine() {}

func (b busyWait) Run(r Range) float64 {
	for i := r.Start; i < r.End; i++ {
		start := time.Now()
		for time.Since(start) < b.delay {
		}
	}
	return 0
}
