package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/cpuwatt/internal/config"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/workload"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("cpuwatt", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "cpuwatt.toml", `
workers = 6
use_case = "transcendental"
iterations = 5000
interval = "250ms"
timeout = "1m"
pin_workers = true
log_level = "debug"
export_dir = "/tmp/cpuwatt"
elapsed_divisor = 8.0

[history]
enabled = true
db_path = "/path/to/history.db"

[telemetry]
listen = ":9464"
`)
	t.Setenv("CPUWATT_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, "transcendental", cfg.UseCase)
	assert.Equal(t, int64(5000), cfg.Iterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.True(t, cfg.PinWorkers)
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "/tmp/cpuwatt", cfg.ExportDir)
	assert.Equal(t, 8.0, cfg.ElapsedDivisor)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/path/to/history.db", cfg.History.DBPath)
	assert.Equal(t, ":9464", cfg.Telemetry.Listen)

	u, err := cfg.ParseUseCase()
	require.NoError(t, err)
	assert.Equal(t, workload.Transcendental, u)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CPUWATT_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, config.DefaultUseCase, cfg.UseCase)
	assert.Equal(t, config.DefaultIterations, cfg.Iterations)
	assert.Equal(t, config.DefaultInterval, cfg.Interval)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, workload.DefaultBusyWaitDelay, cfg.BusyWaitDelay)
	assert.False(t, cfg.PinWorkers)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.PowerTable)
	assert.Empty(t, cfg.ExportDir)
	assert.False(t, cfg.GPU)
	assert.Equal(t, config.DefaultElapsedDivisor, cfg.ElapsedDivisor)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, config.DefaultHistoryDBPath, cfg.History.DBPath)
	assert.Empty(t, cfg.Telemetry.Listen)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "cpuwatt.yaml", "workers: 3\nuse_case: \"4\"\nbusy_wait_delay: 5ms\n")

	cfg, err := config.Load(nil, config.WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Millisecond, cfg.BusyWaitDelay)
	u, err := cfg.ParseUseCase()
	require.NoError(t, err)
	assert.Equal(t, workload.BusyWait, u)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "cpuwatt.toml", "workers = 2\ninterval = \"200ms\"\nlog_level = \"error\"\n")
	t.Setenv("CPUWATT_CONFIG", path)
	t.Setenv("CPUWATT_WORKERS", "5")
	t.Setenv("CPUWATT_INTERVAL", "300ms")
	t.Setenv("CPUWATT_HISTORY_ENABLED", "true")

	// Environment overrides the file.
	cfg, err := config.Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 300*time.Millisecond, cfg.Interval)
	assert.Equal(t, config.LogLevelError, cfg.LogLevel)
	assert.True(t, cfg.History.Enabled)

	// Explicit flags override the environment.
	cfg, err = config.Load(newFlags(t, "--workers", "7", "--log-level", "debug"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, 300*time.Millisecond, cfg.Interval)
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
}

func TestConfigFlag(t *testing.T) {
	path := writeConfig(t, "custom.toml", "iterations = 42\n")
	t.Setenv("CPUWATT_CONFIG", "")

	cfg, err := config.Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Iterations)
}

func TestEnvPrefix(t *testing.T) {
	t.Setenv("CPUWATT_CONFIG", "")
	t.Setenv("MEASURE_WORKERS", "9")
	t.Chdir(t.TempDir())

	cfg, err := config.Load(nil, config.WithEnvPrefix("MEASURE"))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Workers)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, "cpuwatt.toml", "\nThis is not a valid TOML file\n")
	t.Setenv("CPUWATT_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.Load(nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "cpuwatt.toml", "log_level = \"invalid\"\n")
	t.Setenv("CPUWATT_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestLogLevelFlag(t *testing.T) {
	t.Setenv("CPUWATT_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := config.Load(newFlags(t, "--log-level", "WARNING"))
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelWarning, cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestValidate(t *testing.T) {
	t.Setenv("CPUWATT_CONFIG", "")
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"zero workers", []string{"--workers", "0"}},
		{"negative workers", []string{"--workers", "-3"}},
		{"unknown use case", []string{"--use-case", "sleep"}},
		{"use case out of range", []string{"--use-case", "5"}},
		{"zero interval", []string{"--interval", "0s"}},
		{"negative timeout", []string{"--timeout", "-1s"}},
		{"negative iterations", []string{"--iterations", "-1"}},
		{"zero divisor", []string{"--elapsed-divisor", "0"}},
		{"history without path", []string{"--history", "--history-db", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(newFlags(t, tt.args...))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLogLevelIsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarning, config.LogLevelError} {
		assert.True(t, l.IsValid(), l.String())
	}
	assert.False(t, config.LogLevel("trace").IsValid())
}
