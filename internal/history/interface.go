package history

import (
	"context"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
)

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, out *orchestrator.Outcome) error
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Repository defines the interface for run storage
type Repository interface {
	Insert(run *RunRecord, intervals []IntervalRecord) error
	List(limit int) ([]RunRecord, error)
	Close() error
}

// RunRecord is one stored run.
type RunRecord struct {
	ID                  string
	StartedAt           time.Time
	FinishedAt          time.Time
	Workers             int
	UseCase             string
	Iterations          int64
	Complete            bool
	Completed           int
	Faulted             int
	Anomalies           int
	EnergyJoules        float64
	ActiveMs            int64
	TotalMs             int64
	AvgWatts            float64
	KWh                 float64
	ProjectedKWhPerHour float64
	GPUEnergyJoules     float64
	TotalSum            float64
	Intervals           int
}

// IntervalRecord is one stored interval of a run.
type IntervalRecord struct {
	Seq          int
	Start        time.Time
	End          time.Time
	ActiveMs     int64
	TotalMs      int64
	EnergyJoules float64
}
