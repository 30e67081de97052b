package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orogenlabs/terramorph/config"
	"github.com/orogenlabs/terramorph/internal/logging"
	"github.com/orogenlabs/terramorph/internal/observability"
	"github.com/orogenlabs/terramorph/output"
)

var runFlags struct {
	configPath  string
	resumePath  string
	metricsAddr string
	logLevel    string
	logFormat   string
	trace       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a configured model to its stop time",
	Long: `Run loads a YAML run configuration, assembles the grid, boundary
conditions, and component pipeline, and advances the model clock to the
configured stop time. The process exits non-zero when the run aborts.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.configPath, "config", "f", "", "run configuration YAML (required)")
	f.StringVar(&runFlags.resumePath, "resume", "", "checkpoint file to resume from")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	f.StringVar(&runFlags.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	f.StringVar(&runFlags.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVar(&runFlags.trace, "trace", false, "emit OpenTelemetry spans for the run")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Config{Level: runFlags.logLevel, Format: runFlags.logFormat})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tcfg := observability.TracingConfigFromEnv()
	if runFlags.trace {
		tcfg.Enabled = true
	}
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	// Spans flush even when ctx was cancelled by a signal.
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewRunCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	cfg, err := config.LoadFile(runFlags.configPath)
	if err != nil {
		return err
	}

	opts := []config.AssembleOption{
		config.WithLogger(log),
		config.WithRunMetrics(metrics),
		config.WithEmitRecorder(metrics),
	}
	if runFlags.resumePath != "" {
		ck, err := output.LoadCheckpoint(runFlags.resumePath)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		opts = append(opts, config.WithCheckpoint(ck))
	}

	run, err := config.Assemble(cfg, opts...)
	if err != nil {
		return err
	}

	if runFlags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: runFlags.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "metrics server failed", logging.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info(ctx, "metrics server listening", logging.String("addr", runFlags.metricsAddr))
	}

	if err := run.Model.Validate(); err != nil {
		return fmt.Errorf("validate run %q: %w", run.Model.RunID(), err)
	}
	if err := run.Model.Run(ctx); err != nil {
		return fmt.Errorf("run %q: %w", run.Model.RunID(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s finished at t=%v after %d iterations (%d retries)\n",
		run.Model.RunID(), run.Clock.Now(), run.Model.Iterations(), run.Model.Retries())
	if run.Output != nil {
		fmt.Fprintf(out, "emitted %d outputs via %s\n",
			run.Output.Emissions(), strings.Join(run.Output.Writers(), ", "))
	}
	return nil
}
