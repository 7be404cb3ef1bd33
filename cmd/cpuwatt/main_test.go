package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/cpuwatt/internal/config"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/history"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
)

func newFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("cpuwatt", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	return fs
}

func TestApplyPositional(t *testing.T) {
	t.Run("maps workers and use case", func(t *testing.T) {
		fs := newFlags(t)
		require.NoError(t, applyPositional(fs, []string{"6", "transcendental"}))

		workers, err := fs.GetInt("workers")
		require.NoError(t, err)
		assert.Equal(t, 6, workers)

		useCase, err := fs.GetString("use-case")
		require.NoError(t, err)
		assert.Equal(t, "transcendental", useCase)
	})

	t.Run("explicit flag wins", func(t *testing.T) {
		fs := newFlags(t)
		require.NoError(t, fs.Parse([]string{"--workers", "2"}))
		require.NoError(t, applyPositional(fs, []string{"6"}))

		workers, err := fs.GetInt("workers")
		require.NoError(t, err)
		assert.Equal(t, 2, workers)
	})

	t.Run("non numeric workers", func(t *testing.T) {
		fs := newFlags(t)
		err := applyPositional(fs, []string{"many"})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
	})
}

func TestRootCommandRejectsExtraArgs(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"1", "2", "3"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	runs := []history.RunRecord{{
		ID:                  "2f1c7c1e-8f0b-4a57-9a53-0d3c3a7f4b10",
		StartedAt:           time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UseCase:             "recurrence",
		Workers:             4,
		Complete:            true,
		EnergyJoules:        12.5,
		AvgWatts:            3.25,
		ProjectedKWhPerHour: 0.0125,
	}}

	require.NoError(t, renderRuns(&buf, runs))

	out := buf.String()
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "2024-05-01 12:00:00")
	assert.Contains(t, out, "recurrence")
	assert.Contains(t, out, "12.500")
	assert.Contains(t, out, "2f1c7c1e-8f0b-4a57-9a53-0d3c3a7f4b10")
}

func TestExitError(t *testing.T) {
	inner := errors.New().New(errors.ErrIncompleteRun)
	err := &exitError{code: exitIncomplete, err: inner}

	assert.Equal(t, inner.Error(), err.Error())
	assert.True(t, errors.HasCode(err, errors.ErrIncompleteRun))
}

type closeFailRecorder struct{}

func (closeFailRecorder) Record(context.Context, *orchestrator.Outcome) error { return nil }

func (closeFailRecorder) Runs(context.Context, int) ([]history.RunRecord, error) { return nil, nil }

func (closeFailRecorder) Close() error { return fmt.Errorf("database is locked") }

func TestCloseRecorderLogsError(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "info", true)
	t.Cleanup(func() { logger.Init("info", true) })

	closeRecorder(closeFailRecorder{})

	assert.Contains(t, buf.String(), "Failed to close history")
	assert.Contains(t, buf.String(), "database is locked")
}
