package history

import (
	"database/sql"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       id                     TEXT PRIMARY KEY,
	       started_at             INTEGER NOT NULL CHECK (typeof(started_at) = 'integer'),
	       finished_at            INTEGER NOT NULL CHECK (typeof(finished_at) = 'integer'),
	       workers                INTEGER NOT NULL CHECK (workers > 0),
	       use_case               TEXT NOT NULL,
	       iterations             INTEGER NOT NULL,
	       complete               INTEGER NOT NULL CHECK (complete IN (0, 1)),
	       completed              INTEGER NOT NULL,
	       faulted                INTEGER NOT NULL,
	       anomalies              INTEGER NOT NULL,
	       energy_joules          REAL NOT NULL,
	       active_ms              INTEGER NOT NULL,
	       total_ms               INTEGER NOT NULL,
	       avg_watts              REAL NOT NULL,
	       kwh                    REAL NOT NULL,
	       projected_kwh_per_hour REAL NOT NULL,
	       gpu_energy_joules      REAL NOT NULL,
	       total_sum              REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS intervals (
	       run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	       seq            INTEGER NOT NULL,
	       start_at       INTEGER NOT NULL,
	       end_at         INTEGER NOT NULL,
	       active_ms      INTEGER NOT NULL,
	       total_ms       INTEGER NOT NULL,
	       energy_joules  REAL NOT NULL,
	       PRIMARY KEY (run_id, seq)
	   );`

	insertRunSQL = `
    INSERT INTO runs (
        id, started_at, finished_at,
        workers, use_case, iterations,
        complete, completed, faulted, anomalies,
        energy_joules, active_ms, total_ms,
        avg_watts, kwh, projected_kwh_per_hour,
        gpu_energy_joules, total_sum
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertIntervalSQL = `
    INSERT INTO intervals (
        run_id, seq, start_at, end_at,
        active_ms, total_ms, energy_joules
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectRunsSQL = `
    SELECT
        r.id, r.started_at, r.finished_at,
        r.workers, r.use_case, r.iterations,
        r.complete, r.completed, r.faulted, r.anomalies,
        r.energy_joules, r.active_ms, r.total_ms,
        r.avg_watts, r.kwh, r.projected_kwh_per_hour,
        r.gpu_energy_joules, r.total_sum,
        (SELECT COUNT(*) FROM intervals i WHERE i.run_id = r.id)
    FROM runs r
    ORDER BY r.started_at DESC, r.id
    LIMIT ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
