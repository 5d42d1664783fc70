package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobkeep/jobkeep"
	"github.com/jobkeep/jobkeep/metrics"
	"github.com/jobkeep/jobkeep/postgres"
)

var (
	flagThreads         int
	flagConnections     int
	flagJobStartTimeout time.Duration
	flagPollInterval    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker loop until interrupted",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&flagThreads, "threads", 0, "concurrent job limit (0 = use config)")
	runCmd.Flags().IntVar(&flagConnections, "connections", 0, "connection pool upper bound (0 = same as --threads)")
	runCmd.Flags().DurationVar(&flagJobStartTimeout, "job-start-timeout", 0, "fetch-loop timeout (0 = use config)")
	runCmd.Flags().DurationVar(&flagPollInterval, "poll-interval", time.Second, "delay between drains once the queue is empty")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	threads := flagThreads
	if threads <= 0 {
		threads = cfg.Runner.ThreadCount
	}
	connections := flagConnections
	if connections <= 0 {
		connections = threads
	}
	jobStartTimeout := flagJobStartTimeout
	if jobStartTimeout <= 0 {
		jobStartTimeout = cfg.Runner.JobStartTimeout
	}

	// The pool must hold at least one connection per concurrently
	// dispatched job, so it's sized from the same connection count the
	// Runner itself will validate against in Build.
	store, err := connectStore(ctx, cfg, int32(connections))
	if err != nil {
		return err
	}
	defer store.Close()

	gateway := postgres.NewGateway(store)
	env := NewEnv(logger, gateway)

	builder := jobkeep.NewBuilder[Env](gateway, env).
		ThreadCount(threads).
		SetConnectionCount(connections).
		JobStartTimeout(jobStartTimeout)

	if cfg.Metrics.Enabled {
		builder.Metrics(metrics.NewRecorder())
		go serveMetrics(logger, cfg.Metrics.Addr)
	}

	runner, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	logger.Info("worker started", "runner_instance", env.InstanceID, "threads", threads)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, waiting for in-flight jobs", "runner_instance", env.InstanceID)
			if err := runner.CheckForFailedJobs(context.Background()); err != nil {
				logger.Warn("failures observed during shutdown drain", "error", err)
			}
			return nil
		default:
		}

		err := runner.RunAllPendingJobs(ctx)
		var fetchErr *jobkeep.FetchError
		switch {
		case err == nil:
			time.Sleep(flagPollInterval)
		case errors.As(err, &fetchErr) && fetchErr.Kind == jobkeep.NoMessageReceived:
			// Nothing to report: a plain drain timeout with no pending
			// work is not an operational failure.
			time.Sleep(flagPollInterval)
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("fetch loop failed: %w", err)
		}
	}
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server exited", "error", err)
	}
}
