package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/classwiz/internal/pipeline"
	"github.com/ajitpratap0/classwiz/pkg/config"
	"github.com/ajitpratap0/classwiz/pkg/logger"
	"github.com/ajitpratap0/classwiz/pkg/metrics"
	"github.com/ajitpratap0/classwiz/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "classwiz",
		Short: "Classwiz - convergence analysis of RELION 3D classifications",
		Long: `Classwiz reads the per-iteration particle files of a RELION 3D classification,
tracks how particles move between classes and writes a multi-page PDF report.
With --filt or --mic it also writes <root>_filtered.star without unstable particles.

Example:
  classwiz --f Class3D/job012 --root run --o job012.pdf --filt true --sigmafac 1.5`,
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdout)
		},
	}
	root.SetOut(stdout)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Classwiz v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:                "config",
		Short:              "Print the effective configuration as YAML",
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), cmd.Flags())
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout())
		},
	})
	return root
}

// run executes one analysis with cfg.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogFormat,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(
		zap.String("component", "classwiz-cli"),
		zap.String("root", cfg.Root),
	)

	tracingConfig := observability.TracingConfig{ServiceName: "classwiz", ServiceVersion: version}
	if cfg.TraceFile != "" {
		fh, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file %s: %w", cfg.TraceFile, err)
		}
		defer fh.Close()
		tracingConfig.Writer = fh
	}
	tracing, err := observability.NewTracing(tracingConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	p := pipeline.New(cfg, log, stdout,
		pipeline.WithMetrics(metrics.NewCollector()),
		pipeline.WithTracing(tracing),
		pipeline.WithVersion(version),
	)
	_, err = p.Run(ctx)
	return err
}
