package workload

import (
	"sort"
	"testing"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicRoutine struct{}

func (panicRoutine) routine() {}

func (panicRoutine) Run(Range) float64 {
	panic("boom")
}

func drain(s Stream) ([]Result, []Fault) {
	var results []Result
	var faults []Fault
	resultsCh, faultsCh := s.Results, s.Faults
	for resultsCh != nil || faultsCh != nil {
		select {
		case r, ok := <-resultsCh:
			if !ok {
				resultsCh = nil
				continue
			}
			results = append(results, r)
		case f, ok := <-faultsCh:
			if !ok {
				faultsCh = nil
				continue
			}
			faults = append(faults, f)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].WorkerID < results[j].WorkerID })
	return results, faults
}

func TestPoolLaunch(t *testing.T) {
	pool, err := NewPool(Config{Workers: 4, Iterations: 1003, UseCase: Increment})
	require.NoError(t, err)

	results, faults := drain(pool.Launch())
	assert.Empty(t, faults)
	require.Len(t, results, 4)

	var total float64
	ranges := pool.Ranges()
	for i, r := range results {
		assert.Equal(t, i, r.WorkerID)
		assert.True(t, r.Completed)
		assert.Equal(t, ranges[i], r.Range)
		assert.Equal(t, float64(r.Range.Len()), r.Sum)
		total += r.Sum
	}
	assert.Equal(t, 1003.0, total)
}

func TestPoolRecurrenceMatchesSingleWorker(t *testing.T) {
	single, err := NewRoutine(Recurrence, 0)
	require.NoError(t, err)
	want := single.Run(Range{Start: 0, End: 5000})

	pool, err := NewPool(Config{Workers: 3, Iterations: 5000, UseCase: Recurrence})
	require.NoError(t, err)

	results, faults := drain(pool.Launch())
	require.Empty(t, faults)

	var got float64
	for _, r := range results {
		got += r.Sum
	}
	assert.Equal(t, want, got)
}

func TestPoolFault(t *testing.T) {
	pool, err := NewPool(
		Config{Workers: 3, Iterations: 300, UseCase: Increment},
		withRoutine(func(id int) Routine {
			if id == 1 {
				return panicRoutine{}
			}
			return increment{}
		}),
	)
	require.NoError(t, err)

	results, faults := drain(pool.Launch())
	require.Len(t, results, 2)
	require.Len(t, faults, 1)

	f := faults[0]
	assert.Equal(t, 1, f.WorkerID)
	assert.True(t, errors.HasCode(f, errors.ErrWorkerFault))
	assert.Contains(t, f.Error(), "boom")

	for _, r := range results {
		assert.NotEqual(t, 1, r.WorkerID)
	}
}

func TestPoolPinned(t *testing.T) {
	pool, err := NewPool(Config{Workers: 2, Iterations: 10, UseCase: Increment, Pin: true})
	require.NoError(t, err)

	results, faults := drain(pool.Launch())
	assert.Empty(t, faults)
	assert.Len(t, results, 2)
}

func TestNewPoolInvalid(t *testing.T) {
	_, err := NewPool(Config{Workers: 0, Iterations: 10, UseCase: Increment})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = NewPool(Config{Workers: 2, Iterations: 10, UseCase: UseCase(7)})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestFaultCode(t *testing.T) {
	f := Fault{WorkerID: 4, Err: errors.New().New(errors.ErrTimeout)}

	code, ok := errors.CodeOf(f)
	require.True(t, ok)
	assert.Equal(t, errors.ErrWorkerFault, code)
	assert.True(t, errors.HasCode(f, errors.ErrTimeout))

	bare := Fault{WorkerID: 0}
	assert.True(t, errors.HasCode(bare, errors.ErrWorkerFault))
}
