package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/kernel"
	"github.com/me/os3/internal/logging"
	"github.com/me/os3/internal/store"
	"github.com/me/os3/internal/tracing"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		appFlags  []string
		dbPath    string
		traceFile string
		quiet     bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [manifest.yaml]",
		Short: "Boot the kernel locally over a set of applications",
		Long: `Loads the applications named by the manifest and any --app flags, runs
them to completion and prints a summary of the run to stderr. Application
output goes to stdout.

  os3 run --app builtin:hello --app builtin:power,3,100000
  os3 run batch.yaml --db ~/.os3/os3.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := kernelConfig(args, appFlags)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("trace-file") {
				cfg.TraceFile = traceFile
			}
			if flags.Changed("quiet") {
				cfg.Quiet = quiet
			}

			log := logger
			if !flags.Changed("log-level") && !flagDebug && len(args) == 1 {
				log = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			}

			var st store.Store
			if cfg.DBPath != "" {
				sq, err := store.Open(cmd.Context(), cfg.DBPath, log)
				if err != nil {
					return err
				}
				defer sq.Close()
				st = sq
			}

			tracer, err := tracing.New("os3", kernel.Version, cfg.TraceFile)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracer.Shutdown(context.Background())

			k, err := kernel.New(cfg, kernel.Deps{
				Store:   st,
				Tracer:  tracer,
				Console: cmd.OutOrStdout(),
				Logger:  log,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			report, runErr := k.Run(ctx)
			if report != nil {
				printReport(cmd.ErrOrStderr(), report.Run(), report.Events)
			}
			return runErr
		},
	}

	cmd.Flags().StringArrayVar(&appFlags, "app", nil, "Application to load: builtin:<name>[,arg...] or script:<path>[,arg...] (repeatable)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Record the run in this SQLite database")
	cmd.Flags().StringVar(&traceFile, "trace-file", "", `Write OpenTelemetry spans to this file ("-" for stdout)`)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Discard application output")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")

	return cmd
}

// kernelConfig merges an optional manifest with --app flags. Flag apps are
// appended after the manifest's.
func kernelConfig(args, appFlags []string) (config.KernelConfig, error) {
	cfg := config.DefaultKernelConfig()
	if len(args) == 1 {
		var err error
		cfg, err = config.LoadKernelConfig(args[0])
		if err != nil {
			return cfg, err
		}
	}
	for _, f := range appFlags {
		app, err := config.ParseAppFlag(f)
		if err != nil {
			return cfg, err
		}
		cfg.Apps = append(cfg.Apps, app)
	}
	if len(cfg.Apps) == 0 {
		return cfg, errors.New("no applications: pass a manifest or --app")
	}
	return cfg, cfg.Validate()
}
