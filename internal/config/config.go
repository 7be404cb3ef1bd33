// Package config loads cpuwatt settings from defaults, a config file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/workload"
)

const (
	DefaultEnvPrefix      = "CPUWATT"
	DefaultLogLevel       = LogLevelInfo
	DefaultUseCase        = "increment"
	DefaultIterations     = int64(10_000_000_000)
	DefaultInterval       = 100 * time.Millisecond
	DefaultElapsedDivisor = 16.0
	DefaultHistoryDBPath  = "/var/lib/cpuwatt/history.db"

	configName = "cpuwatt"
)

type Config struct {
	Workers        int           `mapstructure:"workers"`
	UseCase        string        `mapstructure:"use_case"`
	Iterations     int64         `mapstructure:"iterations"`
	Interval       time.Duration `mapstructure:"interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BusyWaitDelay  time.Duration `mapstructure:"busy_wait_delay"`
	PinWorkers     bool          `mapstructure:"pin_workers"`
	LogLevel       LogLevel      `mapstructure:"log_level"`
	PowerTable     string        `mapstructure:"power_table"`
	ExportDir      string        `mapstructure:"export_dir"`
	GPU            bool          `mapstructure:"gpu"`
	ElapsedDivisor float64       `mapstructure:"elapsed_divisor"`

	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type TelemetryConfig struct {
	Listen string `mapstructure:"listen"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"workers":          "workers",
	"use-case":         "use_case",
	"iterations":       "iterations",
	"interval":         "interval",
	"timeout":          "timeout",
	"busy-wait-delay":  "busy_wait_delay",
	"pin-workers":      "pin_workers",
	"log-level":        "log_level",
	"power-table":      "power_table",
	"export-dir":       "export_dir",
	"gpu":              "gpu",
	"elapsed-divisor":  "elapsed_divisor",
	"history":          "history.enabled",
	"history-db":       "history.db_path",
	"telemetry-listen": "telemetry.listen",
}

// RegisterFlags defines every configuration flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a configuration file")
	fs.IntP("workers", "w", runtime.NumCPU(), "Number of parallel workers")
	fs.StringP("use-case", "u", DefaultUseCase, "Workload: increment, recurrence, transcendental, busywait (or 1-4)")
	fs.Int64("iterations", DefaultIterations, "Total iterations split across workers")
	fs.Duration("interval", DefaultInterval, "Sampling interval")
	fs.Duration("timeout", 0, "Give up waiting for workers after this long (0 waits forever)")
	fs.Duration("busy-wait-delay", workload.DefaultBusyWaitDelay, "Spin time per iteration of the busywait workload")
	fs.Bool("pin-workers", false, "Pin each worker to one CPU")
	fs.String("log-level", string(DefaultLogLevel), "Log level: debug, info, warning, error")
	fs.String("power-table", "", "YAML power table replacing the built-in one")
	fs.String("export-dir", "", "Write JSON exports of the run to this directory")
	fs.Bool("gpu", false, "Sample NVIDIA GPU board power alongside CPU counters")
	fs.Float64("elapsed-divisor", DefaultElapsedDivisor, "Divisor applied to summed core time for the normalised elapsed figure")
	fs.Bool("history", false, "Record the run in the history database")
	fs.String("history-db", DefaultHistoryDBPath, "Path of the history database")
	fs.String("telemetry-listen", "", "Serve Prometheus metrics on this address")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("use_case", DefaultUseCase)
	v.SetDefault("iterations", DefaultIterations)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("busy_wait_delay", workload.DefaultBusyWaitDelay)
	v.SetDefault("pin_workers", false)
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("power_table", "")
	v.SetDefault("export_dir", "")
	v.SetDefault("gpu", false)
	v.SetDefault("elapsed_divisor", DefaultElapsedDivisor)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", DefaultHistoryDBPath)
	v.SetDefault("telemetry.listen", "")
}

// Load builds the configuration. flags may be nil; only flags that were set
// explicitly override the other sources.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if configPath == "" && flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			configPath = f.Value.String()
		}
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithMessage(errors.ErrInvalidLogLevel,
			fmt.Sprintf("invalid log level %q", c.LogLevel))
	}

	invalid := func(format string, args ...any) error {
		return errFactory.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Workers <= 0:
		return invalid("workers must be positive, got %d", c.Workers)
	case c.Iterations < 0:
		return invalid("iterations must not be negative, got %d", c.Iterations)
	case c.Interval <= 0:
		return invalid("interval must be positive, got %s", c.Interval)
	case c.Timeout < 0:
		return invalid("timeout must not be negative, got %s", c.Timeout)
	case c.BusyWaitDelay < 0:
		return invalid("busy_wait_delay must not be negative, got %s", c.BusyWaitDelay)
	case c.ElapsedDivisor <= 0:
		return invalid("elapsed_divisor must be positive, got %g", c.ElapsedDivisor)
	case c.History.Enabled && c.History.DBPath == "":
		return invalid("history.db_path is required when history is enabled")
	}

	if _, err := c.ParseUseCase(); err != nil {
		return err
	}

	return nil
}

// ParseUseCase returns the configured use case.
func (c *Config) ParseUseCase() (workload.UseCase, error) {
	return workload.ParseUseCase(c.UseCase)
}
