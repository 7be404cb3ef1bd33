// Package sampler captures periodic snapshots of per-core CPU counters.
package sampler

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/clock"
	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// GPUSource returns one power reading per GPU.
type GPUSource interface {
	Read() ([]cpustat.GPUSample, error)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock used to timestamp snapshots.
func WithClock(c clock.Clock) Option {
	return func(s *Sampler) {
		s.clock = c
	}
}

// WithLogger sets the sampler's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sampler) {
		s.logger = l
	}
}

// WithGPU attaches GPU board power readings to every snapshot.
func WithGPU(g GPUSource) Option {
	return func(s *Sampler) {
		s.gpu = g
	}
}

// WithObserver registers a callback invoked with every appended snapshot.
func WithObserver(fn func(cpustat.Snapshot)) Option {
	return func(s *Sampler) {
		s.observer = fn
	}
}

// Sampler is the single writer of a snapshot series. Ticks and Stop are
// serialised on mu, so a tick is either fully appended or absent.
type Sampler struct {
	source   cpustat.Source
	gpu      GPUSource
	clock    clock.Clock
	interval time.Duration
	logger   logger.Logger
	observer func(cpustat.Snapshot)

	mu          sync.Mutex
	series      []cpustat.Snapshot
	stopped     bool
	failures    int
	gpuFailures int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// New creates a stopped-until-started Sampler reading from source.
func New(source cpustat.Source, opts ...Option) *Sampler {
	s := &Sampler{
		source:   source,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		logger:   logger.Nop(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the configured tick period.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Tick captures one snapshot and appends it to the series.
func (s *Sampler) Tick() (cpustat.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return cpustat.Snapshot{}, errors.New().New(errors.ErrSamplerStopped)
	}

	snap, err := s.capture()
	if err != nil {
		s.failures++
		return cpustat.Snapshot{}, err
	}

	s.series = append(s.series, snap)
	if s.observer != nil {
		s.observer(snap)
	}

	return snap, nil
}

func (s *Sampler) capture() (cpustat.Snapshot, error) {
	cores, err := s.source.Read()
	if err != nil {
		return cpustat.Snapshot{}, err
	}

	snap := cpustat.Snapshot{
		Timestamp: s.clock.Now(),
		Cores:     cores,
	}

	// GPU readings are optional; a failed read leaves GPUs nil and the
	// interval gets no GPU energy.
	if s.gpu != nil {
		gpus, err := s.gpu.Read()
		if err != nil {
			s.gpuFailures++
			s.logger.Warn().Err(err).Msg("GPU read failed, keeping CPU sample")
		} else {
			snap.GPUs = gpus
		}
	}

	return snap, nil
}

// Start takes a baseline snapshot and begins ticking in the background until
// Stop is called or ctx is done.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New().WithMessage(errors.ErrInvalidOperation, "sampler already started")
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.Tick(); err != nil {
		close(s.doneCh)
		return err
	}

	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker)

	return nil
}

func (s *Sampler) run(ctx context.Context, ticker clock.Ticker) {
	defer close(s.doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C():
			if _, err := s.Tick(); err != nil {
				if errors.HasCode(err, errors.ErrSamplerStopped) {
					return
				}
				s.logger.Warn().Err(err).Msg("Skipping sample")
			}
		}
	}
}

// Stop prevents further ticks, waits for an in-flight tick to finish, and
// hands the series to the caller. It is safe to call more than once.
func (s *Sampler) Stop() []cpustat.Snapshot {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()

		close(s.stopCh)
		if started {
			<-s.doneCh
		}

		s.logger.Debug().
			Int("snapshots", s.Len()).
			Int("failed_reads", s.Failures()).
			Int("failed_gpu_reads", s.GPUFailures()).
			Msg("Sampler stopped")
	})

	return s.Series()
}

// Series returns a copy of the snapshots captured so far.
func (s *Sampler) Series() []cpustat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cpustat.Snapshot, len(s.series))
	copy(out, s.series)
	return out
}

// Len returns the number of snapshots captured so far.
func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// Failures returns the number of ticks skipped because a read failed.
func (s *Sampler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// GPUFailures returns how many GPU reads failed while the CPU sample was kept.
func (s *Sampler) GPUFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpuFailures
}
