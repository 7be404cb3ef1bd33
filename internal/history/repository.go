package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
)

const defaultListLimit = 20

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
	closed bool
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("History repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

// Insert stores a run and its intervals in one transaction.
func (r *repository) Insert(run *RunRecord, intervals []IntervalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if r.closed {
		return errFactory.WithMessage(errors.ErrInvalidOperation, "history repository is closed")
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	rollback := func() {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
	}

	if _, err := tx.Exec(insertRunSQL,
		run.ID,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
		int64(run.Workers),
		run.UseCase,
		run.Iterations,
		int64(boolToInt(run.Complete)),
		int64(run.Completed),
		int64(run.Faulted),
		int64(run.Anomalies),
		run.EnergyJoules,
		run.ActiveMs,
		run.TotalMs,
		run.AvgWatts,
		run.KWh,
		run.ProjectedKWhPerHour,
		run.GPUEnergyJoules,
		run.TotalSum,
	); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to insert run")
		rollback()
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertIntervalSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		rollback()
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, interval := range intervals {
		if _, err := stmt.Exec(
			run.ID,
			int64(interval.Seq),
			interval.Start.UnixMilli(),
			interval.End.UnixMilli(),
			interval.ActiveMs,
			interval.TotalMs,
			interval.EnergyJoules,
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			rollback()
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Str("run_id", run.ID).
		Int("intervals", len(intervals)).
		Msg("Recorded run")

	return nil
}

// List returns the most recent runs first. A non-positive limit selects the default.
func (r *repository) List(limit int) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if r.closed {
		return nil, errFactory.WithMessage(errors.ErrInvalidOperation, "history repository is closed")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.Query(selectRunsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run                RunRecord
			started, finished  int64
			complete           int64
			workers, intervals int64
			completed, faulted int64
			anomalies          int64
		)
		if err := rows.Scan(
			&run.ID, &started, &finished,
			&workers, &run.UseCase, &run.Iterations,
			&complete, &completed, &faulted, &anomalies,
			&run.EnergyJoules, &run.ActiveMs, &run.TotalMs,
			&run.AvgWatts, &run.KWh, &run.ProjectedKWhPerHour,
			&run.GPUEnergyJoules, &run.TotalSum,
			&intervals,
		); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}

		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		run.Workers = int(workers)
		run.Complete = complete == 1
		run.Completed = int(completed)
		run.Faulted = int(faulted)
		run.Anomalies = int(anomalies)
		run.Intervals = int(intervals)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return runs, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("History repository closed gracefully")

	return nil
}
