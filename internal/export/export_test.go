package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/delta"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
	"codeberg.org/mutker/cpuwatt/internal/power"
	"codeberg.org/mutker/cpuwatt/internal/report"
	"codeberg.org/mutker/cpuwatt/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOutcome() *orchestrator.Outcome {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	series := []cpustat.Snapshot{
		{Timestamp: start, Cores: []cpustat.CoreSample{
			{Core: 0, SpeedMHz: 2000, Times: cpustat.Times{User: 100, Sys: 50, Idle: 800}},
			{Core: 1, SpeedMHz: 2000, Times: cpustat.Times{User: 10, Idle: 900}},
		}},
		{Timestamp: start.Add(100 * time.Millisecond), Cores: []cpustat.CoreSample{
			{Core: 0, SpeedMHz: 2100, Times: cpustat.Times{User: 150, Sys: 70, Idle: 880}},
			{Core: 1, SpeedMHz: 2000, Times: cpustat.Times{User: 20, Idle: 990}},
		}},
	}
	deltas := delta.NewEngine(power.DefaultTable()).Compute(series)

	summary := report.Summarize(deltas.Intervals, 16)
	summary.Workers = 2
	summary.Completed = 1
	summary.Faulted = 1

	return &orchestrator.Outcome{
		ID:         "0d9b4b8e-1b8f-4bb4-9c1f-6d2d1c0f3a11",
		Request:    orchestrator.Request{Workers: 2, UseCase: workload.Increment, Iterations: 10, Interval: 100 * time.Millisecond},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Series:     series,
		Deltas:     deltas,
		Results:    []workload.Result{{WorkerID: 0, Sum: 5, Completed: true, Range: workload.Range{Start: 0, End: 5}}},
		Faults:     []workload.Fault{{WorkerID: 1, Err: errors.New().WithData(errors.ErrWorkerFault, "boom")}},
		Summary:    summary,
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	out := testOutcome()

	paths, err := Write(dir, out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, MetricsFile),
		filepath.Join(dir, DeltasFile),
		filepath.Join(dir, IntervalsFile),
		filepath.Join(dir, SummaryFile),
	}, paths)

	var series []map[string]any
	readJSON(t, filepath.Join(dir, MetricsFile), &series)
	require.Len(t, series, 2)
	assert.Contains(t, series[0], "cpuMetrics")
	assert.NotContains(t, series[0], "gpuMetrics")

	var perCore [][]delta.CoreDelta
	readJSON(t, filepath.Join(dir, DeltasFile), &perCore)
	require.Len(t, perCore, 1)
	require.Len(t, perCore[0], 2)
	assert.Equal(t, int64(70), perCore[0][0].ActiveTimeMs)
	assert.Equal(t, int64(150), perCore[0][0].TotalMs)
	assert.Equal(t, 100.0, perCore[0][0].SpeedDelta)

	var intervals []delta.IntervalSummary
	readJSON(t, filepath.Join(dir, IntervalsFile), &intervals)
	require.Len(t, intervals, 1)
	assert.Equal(t, int64(80), intervals[0].ActiveTimeMs)
	assert.Nil(t, intervals[0].Cores)

	var doc Document
	readJSON(t, filepath.Join(dir, SummaryFile), &doc)
	assert.Equal(t, out.ID, doc.ID)
	assert.Equal(t, "100ms", doc.Interval)
	assert.Equal(t, int64(10), doc.Iterations)
	assert.Equal(t, 2, doc.Summary.Workers)
	assert.Len(t, doc.Workers, 1)
	require.Len(t, doc.Faults, 1)
	assert.Contains(t, doc.Faults[0], "worker 1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no temporary files left behind")
}

func TestWriteOverwrites(t *testing.T) {
	dir := t.TempDir()

	_, err := Write(dir, testOutcome())
	require.NoError(t, err)

	out := testOutcome()
	out.ID = "second"
	_, err = Write(dir, out)
	require.NoError(t, err)

	var doc Document
	readJSON(t, filepath.Join(dir, SummaryFile), &doc)
	assert.Equal(t, "second", doc.ID)
}

func TestWriteFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Write(file, testOutcome())
	assert.True(t, errors.HasCode(err, errors.ErrExportFailed))
}
