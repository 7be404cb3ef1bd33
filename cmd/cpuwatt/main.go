package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"codeberg.org/mutker/cpuwatt/internal/config"
	"codeberg.org/mutker/cpuwatt/internal/cpustat"
	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/export"
	"codeberg.org/mutker/cpuwatt/internal/gpu"
	"codeberg.org/mutker/cpuwatt/internal/history"
	"codeberg.org/mutker/cpuwatt/internal/logger"
	"codeberg.org/mutker/cpuwatt/internal/orchestrator"
	"codeberg.org/mutker/cpuwatt/internal/pid"
	"codeberg.org/mutker/cpuwatt/internal/power"
	"codeberg.org/mutker/cpuwatt/internal/telemetry"
)

const (
	exitFailure    = 1
	exitIncomplete = 2
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	logger.Init(config.LogLevelInfo.String(), logger.IsService())

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		code := exitFailure
		var exit *exitError
		if errors.As(err, &exit) {
			code = exit.code
		}

		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("cpuwatt failed")
		} else {
			logger.Error().Err(err).Msg("cpuwatt failed")
		}
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cpuwatt [workers] [use-case]",
		Short: "Estimate the energy a CPU-bound workload consumes",
		Long: `cpuwatt runs a synthetic compute workload on a fixed number of workers,
samples per-core CPU time counters while it runs and converts each interval's
load into joules with a piecewise-linear power table.

Use cases: 1 increment, 2 recurrence, 3 transcendental, 4 busywait.

Examples:
  cpuwatt 8 transcendental
  cpuwatt --workers 4 --use-case 2 --iterations 2000000000 --export-dir ./out`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyPositional(cmd.Flags(), args); err != nil {
				return err
			}
			return run(cmd.Context(), cmd.Flags(), cmd.OutOrStdout())
		},
	}

	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newHistoryCommand())

	return root
}

// applyPositional maps the positional workers and use case onto their flags
// unless the flag itself was given.
func applyPositional(flags *pflag.FlagSet, args []string) error {
	names := []string{"workers", "use-case"}
	for i, arg := range args {
		if flags.Changed(names[i]) {
			continue
		}
		if err := flags.Set(names[i], arg); err != nil {
			return errors.New().Wrap(errors.ErrInvalidConfig, err).
				WithMessage(fmt.Sprintf("invalid %s %q", names[i], arg))
		}
	}
	return nil
}

func run(parent context.Context, flags *pflag.FlagSet, stdout io.Writer) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger.Init(cfg.LogLevel.String(), logger.IsService())
	logger.Debug().Interface("config", cfg).Msg("Config loaded")

	useCase, err := cfg.ParseUseCase()
	if err != nil {
		return err
	}

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model := power.DefaultTable()
	if cfg.PowerTable != "" {
		if model, err = power.LoadTable(cfg.PowerTable); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.PowerTable).Int("points", len(model)).Msg("Loaded power table")
	}

	collector := telemetry.New(model)
	telemetryCfg := telemetry.Config{Listen: cfg.Telemetry.Listen}
	if telemetryCfg.Enabled() {
		if _, err := collector.Serve(ctx, telemetryCfg, logger.WithComponent("telemetry")); err != nil {
			return err
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithModel(model),
		orchestrator.WithObserver(collector),
		orchestrator.WithLogger(logger.WithComponent("orchestrator")),
	}

	if cfg.GPU {
		reader, err := gpu.New(logger.WithComponent("gpu"))
		if err != nil {
			return err
		}
		defer func() {
			if err := reader.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("Failed to shut down NVML")
			}
		}()
		opts = append(opts, orchestrator.WithGPU(reader))
	}

	recorder, err := history.NewService(history.Config{
		Enabled: cfg.History.Enabled,
		DBPath:  cfg.History.DBPath,
	}, logger.WithComponent("history"))
	if err != nil {
		return err
	}
	defer closeRecorder(recorder)

	req := orchestrator.Request{
		Workers:        cfg.Workers,
		UseCase:        useCase,
		Iterations:     cfg.Iterations,
		BusyWaitDelay:  cfg.BusyWaitDelay,
		Pin:            cfg.PinWorkers,
		Interval:       cfg.Interval,
		Timeout:        cfg.Timeout,
		ElapsedDivisor: cfg.ElapsedDivisor,
	}

	out, runErr := orchestrator.New(cpustat.NewProcSource(), opts...).Run(ctx, req)
	if out == nil {
		return runErr
	}

	if err := out.Summary.Render(stdout); err != nil {
		return err
	}

	// Persist partial runs too; a cancelled ctx must not drop them.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if cfg.ExportDir != "" {
		paths, err := export.Write(cfg.ExportDir, out)
		if err != nil {
			logger.Error().Err(err).Msg("Export failed")
		} else {
			logger.Info().Strs("files", paths).Msg("Run exported")
		}
	}

	if err := recorder.Record(persistCtx, out); err != nil {
		logger.Error().Err(err).Str("run_id", out.ID).Msg("Failed to record run")
	}

	if runErr != nil {
		if errors.HasCode(runErr, errors.ErrIncompleteRun) {
			return &exitError{code: exitIncomplete, err: runErr}
		}
		return runErr
	}

	return nil
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel.String(), logger.IsService())

			recorder, err := history.NewService(history.Config{
				Enabled: true,
				DBPath:  cfg.History.DBPath,
			}, logger.WithComponent("history"))
			if err != nil {
				return err
			}
			defer closeRecorder(recorder)

			runs, err := recorder.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}

func closeRecorder(r history.Recorder) {
	if err := r.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close history")
	}
}

func renderRuns(w io.Writer, runs []history.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tUSE CASE\tWORKERS\tCOMPLETE\tENERGY (J)\tAVG (W)\tkWh/h\tID")
	fmt.Fprintln(tw, "-------\t--------\t-------\t--------\t----------\t-------\t-----\t--")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%.3f\t%.2f\t%.6f\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.UseCase, r.Workers, r.Complete,
			r.EnergyJoules, r.AvgWatts, r.ProjectedKWhPerHour, r.ID)
	}
	return tw.Flush()
}
