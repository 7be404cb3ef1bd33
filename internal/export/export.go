// Package export writes the raw series, deltas and summary of a run as JSON.
package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/delta"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
	"codeberg.org/mutker/cpuwatt/internal/report"
	"codeberg.org/mutker/cpuwatt/internal/workload"
)

const (
	MetricsFile   = "metrics.json"
	DeltasFile    = "deltas.json"
	IntervalsFile = "intervals.json"
	SummaryFile   = "summary.json"
)

// Document is the content of SummaryFile.
type Document struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Iterations int64             `json:"iterations"`
	Interval   string            `json:"interval"`
	Summary    report.Summary    `json:"summary"`
	Anomalies  []delta.Anomaly   `json:"anomalies,omitempty"`
	Workers    []workload.Result `json:"workers"`
	Faults     []string          `json:"faults,omitempty"`
}

// NewDocument builds the summary document of out.
func NewDocument(out *orchestrator.Outcome) Document {
	doc := Document{
		ID:         out.ID,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
		Iterations: out.Request.Iterations,
		Interval:   out.Request.Interval.String(),
		Summary:    out.Summary,
		Anomalies:  out.Deltas.Anomalies,
		Workers:    out.Results,
	}
	for _, f := range out.Faults {
		doc.Faults = append(doc.Faults, f.Error())
	}
	return doc
}

// Write creates dir if needed and writes every export file of out into it.
// It returns the paths written.
func Write(dir string, out *orchestrator.Outcome) ([]string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errFactory.Wrap(errors.ErrExportFailed, err)
	}

	perCore := make([][]delta.CoreDelta, len(out.Deltas.Intervals))
	for i, interval := range out.Deltas.Intervals {
		perCore[i] = interval.Cores
	}

	files := []struct {
		name string
		v    any
	}{
		{MetricsFile, out.Series},
		{DeltasFile, perCore},
		{IntervalsFile, out.Deltas.Intervals},
		{SummaryFile, NewDocument(out)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeJSON(path, f.v); err != nil {
			return paths, errFactory.Wrap(errors.ErrExportFailed, err).WithMessage("failed to write " + path)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
