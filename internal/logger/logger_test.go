package logger

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"info":    InfoLevel,
		"warning": WarnLevel,
		"warn":    WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestComponentLoggerTagsEvents(t *testing.T) {
	defer SetLogLevel(InfoLevel)

	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	l := WithComponent("sampler")
	l.Info().Int("ticks", 3).Msg("sampler stopped")

	out := buf.String()
	assert.Contains(t, out, "sampler stopped")
	assert.Contains(t, out, "component=sampler")
	assert.Contains(t, out, "ticks=3")
}

func TestErrorWithCode(t *testing.T) {
	defer SetLogLevel(InfoLevel)

	var buf bytes.Buffer
	InitWithWriter(&buf, "info", true)

	err := errors.New().New(errors.ErrWorkerFault)
	WithComponent("pool").ErrorWithCode(err).Msg("worker failed")

	assert.Contains(t, buf.String(), "error_code=worker_fault")
}

func TestLevelFiltering(t *testing.T) {
	defer SetLogLevel(InfoLevel)

	var buf bytes.Buffer
	InitWithWriter(&buf, "warning", true)

	Info().Msg("hidden")
	Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	l.Info().Str("k", "v").Msg("discarded")
	l.ErrorWithCode(errors.New().New(errors.ErrInternal)).Send()
}
