// Package workload partitions an iteration space across independent workers
// running a compute-bound routine.
package workload

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/clock"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
)

// Config describes one launch of the pool.
type Config struct {
	Workers       int
	Iterations    int64
	UseCase       UseCase
	BusyWaitDelay time.Duration
	// Pin binds worker i to CPU i mod NumCPU.
	Pin bool
}

// Result is emitted exactly once by a worker that finished its range.
type Result struct {
	WorkerID  int           `json:"workerId"`
	Sum       float64       `json:"sum"`
	Completed bool          `json:"completed"`
	Elapsed   time.Duration `json:"elapsed"`
	Range     Range         `json:"range"`
}

// Fault is emitted instead of a Result when a worker terminates abnormally.
type Fault struct {
	WorkerID int
	Err      error
}

func (f Fault) Error() string {
	return fmt.Sprintf("worker %d: %v", f.WorkerID, f.Err)
}

func (f Fault) Unwrap() error {
	return f.Err
}

// Code classifies every fault as a worker fault, whatever its cause.
func (f Fault) Code() errors.ErrorCode {
	return errors.ErrWorkerFault
}

// Stream carries the outcome of every worker. Both channels are closed once all
// workers have reported.
type Stream struct {
	Results <-chan Result
	Faults  <-chan Fault
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithClock sets the clock used to time workers.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// withRoutine overrides the routine of each worker.
func withRoutine(fn func(workerID int) Routine) Option {
	return func(p *Pool) {
		p.routineFor = fn
	}
}

// Pool runs one routine per worker over a fixed partition of the iteration space.
type Pool struct {
	cfg        Config
	ranges     []Range
	routineFor func(workerID int) Routine
	logger     logger.Logger
	clock      clock.Clock
}

// NewPool validates cfg and prepares the partition.
func NewPool(cfg Config, opts ...Option) (*Pool, error) {
	ranges, err := Partition(cfg.Iterations, cfg.Workers)
	if err != nil {
		return nil, err
	}

	routine, err := NewRoutine(cfg.UseCase, cfg.BusyWaitDelay)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:        cfg,
		ranges:     ranges,
		routineFor: func(int) Routine { return routine },
		logger:     logger.Nop(),
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Ranges returns the partition assigned to the workers, indexed by worker ID.
func (p *Pool) Ranges() []Range {
	out := make([]Range, len(p.ranges))
	copy(out, p.ranges)
	return out
}

// Launch starts every worker and returns immediately.
func (p *Pool) Launch() Stream {
	results := make(chan Result, len(p.ranges))
	faults := make(chan Fault, len(p.ranges))

	p.logger.Info().
		Int("workers", len(p.ranges)).
		Int64("iterations", p.cfg.Iterations).
		Str("use_case", p.cfg.UseCase.String()).
		Bool("pinned", p.cfg.Pin).
		Msg("Launching workers")

	var wg sync.WaitGroup
	for id, r := range p.ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(id, r, results, faults)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
		close(faults)
	}()

	return Stream{Results: results, Faults: faults}
}

func (p *Pool) work(id int, r Range, results chan<- Result, faults chan<- Fault) {
	start := p.clock.Now()

	defer func() {
		if v := recover(); v != nil {
			errFactory := errors.New()
			err := errFactory.WithData(errors.ErrWorkerFault, v)
			p.logger.ErrorWithCode(err).
				Int("worker", id).
				Str("range", r.String()).
				Msg("Worker terminated abnormally")
			faults <- Fault{WorkerID: id, Err: err}
		}
	}()

	if p.cfg.Pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		cpu := id % runtime.NumCPU()
		if err := pinToCPU(cpu); err != nil {
			p.logger.Warn().Err(err).Int("worker", id).Int("cpu", cpu).Msg("Failed to pin worker")
		}
	}

	sum := p.routineFor(id).Run(r)
	elapsed := p.clock.Since(start)

	p.logger.Debug().
		Int("worker", id).
		Str("range", r.String()).
		Float64("sum", sum).
		Dur("elapsed", elapsed).
		Msg("Worker finished")

	results <- Result{
		WorkerID:  id,
		Sum:       sum,
		Completed: true,
		Elapsed:   elapsed,
		Range:     r,
	}
}
