package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/internal/pipeline"
	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/registry"
	"github.com/ajitpratap0/geomirror/pkg/history"
	"github.com/ajitpratap0/geomirror/pkg/logger"
	"github.com/ajitpratap0/geomirror/pkg/metrics"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/observability"

	// Register the mirror destinations
	_ "github.com/ajitpratap0/geomirror/pkg/connector/destinations"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	logLevel   string
	workDir    string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "geomirror",
		Short: "Mirror the GeoNames postal code archive",
		Long: `geomirror downloads allCountries.zip when the upstream copy changed,
collects statistics about it and writes release artifacts:
release_notes.txt, update_status.txt and release_title.txt.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file (default ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.workDir, "workdir", "", "Directory relative paths resolve against")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the mirror pipeline once",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMirror(cmd.Context(), flags)
			},
		},
		newCheckCommand(flags),
		newConfigCommand(flags),
		newHistoryCommand(flags),
		newDestinationsCommand(),
		newVersionCommand(),
	)

	return root
}

// overrides maps explicitly set flags onto configuration keys
func (f *globalFlags) overrides() map[string]interface{} {
	o := make(map[string]interface{})
	if f.logLevel != "" {
		o["logging.level"] = f.logLevel
	}
	if f.workDir != "" {
		o["work_dir"] = f.workDir
	}
	return o
}

// setup loads the configuration and initializes the global logger
func setup(flags *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flags.configFile, flags.overrides())
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return nil, nil, err
	}

	return cfg, logger.Get().With(zap.String("component", "geomirror-cli")), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runMirror(parent context.Context, flags *globalFlags) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext(parent)
	defer stop()

	tracing := observability.DefaultConfig()
	tracing.Enabled = cfg.Tracing.Enabled
	tracing.SamplingRate = cfg.Tracing.SamplingRate
	tracing.Output = cfg.Tracing.Output
	tracing.ServiceVersion = version
	shutdown, err := observability.Init(ctx, tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	runner := pipeline.NewRunner(cfg, log, pipeline.WithMetrics(metrics.NewCollector(cfg.Name)))
	res, err := runner.Run(ctx)
	if err != nil {
		fields := []zap.Field{zap.String("error_type", string(mirrorerrors.TypeOf(err)))}
		var mErr *mirrorerrors.Error
		if errors.As(err, &mErr) && len(mErr.Details) > 0 {
			fields = append(fields, zap.String("details", mErr.DetailString()))
		}
		log.Error("mirror run failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("mirror run %s failed: %w", res.RunID, err)
	}

	fmt.Printf("%s: %s (update=%t) in %s\n", res.RunID, res.Outcome, res.IsUpdate, res.Duration().Round(time.Millisecond))
	return nil
}

func newCheckCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the remote archive is newer than the local copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			decision, err := pipeline.NewRunner(cfg, log).Check(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "download needed: %t (%s)\n", decision.Needed, decision.Reason)
			if !decision.LocalModTime.IsZero() {
				fmt.Fprintf(out, "local:  %s\n", decision.LocalModTime.UTC().Format(time.RFC1123))
			}
			if !decision.RemoteModTime.IsZero() {
				fmt.Fprintf(out, "remote: %s\n", decision.RemoteModTime.UTC().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	var reveal bool

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile, flags.overrides())
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg, reveal)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	showCmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets instead of masking them")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled in the configuration")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rec, err := history.Connect(ctx, cfg.History, log)
			if err != nil {
				return err
			}
			defer func() { _ = rec.Close(context.WithoutCancel(ctx)) }()

			runs, err := rec.Recent(ctx, cfg.Name, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %s  %-10s update=%-5t %s\n",
					r.StartedAt.UTC().Format(time.RFC3339), r.RunID, r.Outcome, r.IsUpdate, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 10, "Number of runs to list")
	return cmd
}

func newDestinationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destinations",
		Short: "List available mirror destinations",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Available mirror destinations:")
			for _, dest := range registry.ListDestinations() {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", dest)
			}
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "geomirror %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
