// Package orchestrator drives one measurement: it launches the workers,
// samples CPU counters until they have all completed, and reduces the series
// to the final energy figures.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"codeberg.org/mutker/cpuwatt/internal/clock"
	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/delta"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"codeberg.org/mutker/cpuwatt/internal/power"
	"codeberg.org/mutker/cpuwatt/internal/report"
	"codeberg.org/mutker/cpuwatt/internal/sampler"
	"codeberg.org/mutker/cpuwatt/internal/workload"
)

// Request is the validated input of a run.
type Request struct {
	Workers       int
	UseCase       workload.UseCase
	Iterations    int64
	BusyWaitDelay time.Duration
	Pin           bool
	// Interval is the sampling period; 0 selects sampler.DefaultInterval.
	Interval time.Duration
	// Timeout bounds the wait for workers; 0 waits indefinitely.
	Timeout        time.Duration
	ElapsedDivisor float64
}

// Validate fails with invalid_configuration before any work is started.
func (r Request) Validate() error {
	errFactory := errors.New()

	switch {
	case r.Workers <= 0:
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("worker count must be positive, got %d", r.Workers))
	case !r.UseCase.Valid():
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("unknown use case %s", r.UseCase))
	case r.Iterations < 0:
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("iteration count must not be negative, got %d", r.Iterations))
	case r.Interval < 0:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sampling interval must not be negative")
	case r.Timeout < 0:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "timeout must not be negative")
	}

	return nil
}

func (r Request) poolConfig() workload.Config {
	return workload.Config{
		Workers:       r.Workers,
		Iterations:    r.Iterations,
		UseCase:       r.UseCase,
		BusyWaitDelay: r.BusyWaitDelay,
		Pin:           r.Pin,
	}
}

// Outcome is everything a run produced. Series, Deltas and Summary are set for
// partial runs too.
type Outcome struct {
	ID         string
	Request    Request
	StartedAt  time.Time
	FinishedAt time.Time
	Series     []cpustat.Snapshot
	Deltas     delta.Result
	Results    []workload.Result
	Faults     []workload.Fault
	Summary    report.Summary
}

// Observer receives run events as they happen. Calls come from the sampler
// goroutine and the orchestrator goroutine.
type Observer interface {
	ObserveSnapshot(cpustat.Snapshot)
	ObserveResult(workload.Result)
	ObserveFault(workload.Fault)
	ObserveRun(report.Summary, []delta.Anomaly)
}

type launcher interface {
	Launch() workload.Stream
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGPU attaches GPU board power readings to every snapshot.
func WithGPU(g sampler.GPUSource) Option {
	return func(o *Orchestrator) {
		o.gpu = g
	}
}

// WithModel sets the power model; the built-in table is used otherwise.
func WithModel(m power.Interpolator) Option {
	return func(o *Orchestrator) {
		o.model = m
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

func withLauncher(fn func(workload.Config) (launcher, error)) Option {
	return func(o *Orchestrator) {
		o.newLauncher = fn
	}
}

// Orchestrator runs measurements against a counter source.
type Orchestrator struct {
	source      cpustat.Source
	gpu         sampler.GPUSource
	model       power.Interpolator
	logger      logger.Logger
	clock       clock.Clock
	observer    Observer
	newLauncher func(workload.Config) (launcher, error)
}

// New returns an Orchestrator sampling source.
func New(source cpustat.Source, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source: source,
		model:  power.DefaultTable(),
		logger: logger.Nop(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.newLauncher == nil {
		log, clk := o.logger, o.clock
		o.newLauncher = func(cfg workload.Config) (launcher, error) {
			pool, err := workload.NewPool(cfg, workload.WithLogger(log), workload.WithClock(clk))
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}

	return o
}

// Run performs one measurement. It returns once every worker has completed,
// or earlier on a worker fault, the request timeout or ctx cancellation. In
// the early cases the Outcome is a partial report and the error carries
// incomplete_run. Configuration and baseline sampling errors return no Outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pool, err := o.newLauncher(req.poolConfig())
	if err != nil {
		return nil, err
	}

	smp := sampler.New(o.source, o.samplerOptions(req)...)

	out := &Outcome{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: o.clock.Now(),
	}

	if err := smp.Start(ctx); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("run_id", out.ID).
		Int("workers", req.Workers).
		Str("use_case", req.UseCase.String()).
		Dur("interval", smp.Interval()).
		Msg("Measurement started")

	barrier := NewBarrier(req.Workers)
	reason := o.wait(ctx, req, pool.Launch(), barrier, out)

	// Closing snapshot, so runs shorter than one interval still yield a delta.
	if _, err := smp.Tick(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to take closing snapshot")
	}
	out.Series = smp.Stop()
	out.FinishedAt = o.clock.Now()
	out.Deltas = delta.NewEngine(o.model).Compute(out.Series)

	for _, a := range out.Deltas.Anomalies {
		o.logger.Warn().
			Str("code", string(a.Code)).
			Int("snapshot", a.Index).
			Int("core", a.Core).
			Msg(a.Message)
	}

	summary := report.Summarize(out.Deltas.Intervals, req.ElapsedDivisor)
	summary.Workers = req.Workers
	summary.UseCase = req.UseCase.String()
	summary.Completed = barrier.Completed()
	summary.Faulted = barrier.Faulted()
	summary.Complete = barrier.State() == AllComplete
	summary.Anomalies = len(out.Deltas.Anomalies)
	summary.TotalSum = barrier.TotalSum()
	summary.WallTime = out.FinishedAt.Sub(out.StartedAt)
	out.Summary = summary

	if o.observer != nil {
		o.observer.ObserveRun(summary, out.Deltas.Anomalies)
	}

	o.logger.Info().
		Str("run_id", out.ID).
		Bool("complete", summary.Complete).
		Int("snapshots", len(out.Series)).
		Int("intervals", summary.Intervals).
		Float64("energy_joules", summary.TotalEnergyJoules).
		Msg("Measurement finished")

	if summary.Complete {
		return out, nil
	}

	errFactory := errors.New()
	return out, errFactory.Wrap(errors.ErrIncompleteRun, reason).
		WithMessage(fmt.Sprintf("%d of %d workers completed", summary.Completed, req.Workers))
}

func (o *Orchestrator) samplerOptions(req Request) []sampler.Option {
	opts := []sampler.Option{
		sampler.WithInterval(req.Interval),
		sampler.WithClock(o.clock),
		sampler.WithLogger(o.logger),
	}
	if o.gpu != nil {
		opts = append(opts, sampler.WithGPU(o.gpu))
	}
	if o.observer != nil {
		opts = append(opts, sampler.WithObserver(o.observer.ObserveSnapshot))
	}
	return opts
}

// wait feeds worker outcomes into the barrier until it settles. It returns why
// the run ended early, or nil when every worker completed.
func (o *Orchestrator) wait(ctx context.Context, req Request, stream workload.Stream, barrier *Barrier, out *Outcome) error {
	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := o.clock.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C()
	}

	errFactory := errors.New()
	results, faults := stream.Results, stream.Faults
	var firstFault error

	for !barrier.Settled() {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				break
			}
			out.Results = append(out.Results, r)
			if o.observer != nil {
				o.observer.ObserveResult(r)
			}
			barrier.RecordCompletion(r)

		case f, ok := <-faults:
			if !ok {
				faults = nil
				break
			}
			out.Faults = append(out.Faults, f)
			if o.observer != nil {
				o.observer.ObserveFault(f)
			}
			if firstFault == nil {
				firstFault = f
			}
			barrier.RecordFault(f)
			o.logger.Error().Err(f).Int("worker", f.WorkerID).Msg("Worker fault")

		case <-timeout:
			o.logger.Warn().Dur("timeout", req.Timeout).Msg("Workers did not finish in time")
			return errFactory.WithMessage(errors.ErrTimeout,
				fmt.Sprintf("workers did not finish within %s", req.Timeout))

		case <-ctx.Done():
			o.logger.Warn().Err(ctx.Err()).Msg("Measurement cancelled")
			return errFactory.Wrap(errors.ErrOperationFailed, ctx.Err()).WithMessage("measurement cancelled")
		}

		if results == nil && faults == nil {
			break
		}
	}

	if barrier.State() == AllComplete {
		return nil
	}
	if firstFault != nil {
		return firstFault
	}

	return errFactory.WithMessage(errors.ErrWorkerFault, "workers exited without reporting")
}
