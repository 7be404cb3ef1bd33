// Package history keeps a SQLite record of every measurement run.
package history

import (
	"context"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If history is disabled, return a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("Run history disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Msg("History service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, out *orchestrator.Outcome) error {
	errFactory := errors.New()

	if out == nil || out.ID == "" {
		return errFactory.New(ErrInvalidRun)
	}

	run, intervals := toRecords(out)

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Insert(run, intervals); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return nil, errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.List(limit)
	}
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func toRecords(out *orchestrator.Outcome) (*RunRecord, []IntervalRecord) {
	s := out.Summary
	run := &RunRecord{
		ID:                  out.ID,
		StartedAt:           out.StartedAt,
		FinishedAt:          out.FinishedAt,
		Workers:             s.Workers,
		UseCase:             s.UseCase,
		Iterations:          out.Request.Iterations,
		Complete:            s.Complete,
		Completed:           s.Completed,
		Faulted:             s.Faulted,
		Anomalies:           s.Anomalies,
		EnergyJoules:        s.TotalEnergyJoules,
		ActiveMs:            s.TotalActiveMs,
		TotalMs:             s.TotalMs,
		AvgWatts:            s.AvgWatts,
		KWh:                 s.KWh,
		ProjectedKWhPerHour: s.ProjectedKWhPerHour,
		GPUEnergyJoules:     s.GPUEnergyJoules,
		TotalSum:            s.TotalSum,
		Intervals:           len(out.Deltas.Intervals),
	}

	intervals := make([]IntervalRecord, len(out.Deltas.Intervals))
	for i, interval := range out.Deltas.Intervals {
		intervals[i] = IntervalRecord{
			Seq:          i,
			Start:        interval.Start,
			End:          interval.End,
			ActiveMs:     interval.ActiveTimeMs,
			TotalMs:      interval.TotalMs,
			EnergyJoules: interval.EnergyJoules,
		}
	}

	return run, intervals
}

// No-op implementation
func (*noopRecorder) Record(_ context.Context, _ *orchestrator.Outcome) error {
	return nil
}

func (*noopRecorder) Runs(_ context.Context, _ int) ([]RunRecord, error) {
	return nil, nil
}

func (*noopRecorder) Close() error {
	return nil
}
