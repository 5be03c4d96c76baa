// Package main provides the entry point for the genflow Temporal worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/worker"

	"github.com/mvidalg/genflow-api/internal/bootstrap"
	"github.com/mvidalg/genflow-api/internal/config"
	"github.com/mvidalg/genflow-api/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting genflow worker",
		slog.String("temporal_address", cfg.TemporalAddress),
		slog.String("temporal_namespace", cfg.TemporalNamespace),
		slog.String("task_queue", cfg.TaskQueue),
		slog.Int("gate_capacity", cfg.GateCapacity),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("audit_enabled", cfg.AuditEnabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	w := worker.New(deps.TemporalClient, cfg.TaskQueue, worker.Options{
		// Generation slots are scarce; no point pulling more activity
		// tasks than the gate will admit.
		MaxConcurrentActivityExecutionSize: cfg.GateCapacity * 4,
	})
	w.RegisterWorkflow(workflows.MediaGenerationWorkflow)
	w.RegisterWorkflow(workflows.BatchGenerationWorkflow)
	w.RegisterWorkflow(workflows.CleanupWorkflow)
	w.RegisterActivity(deps.Activities)

	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker polling", slog.String("task_queue", cfg.TaskQueue))

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdownCh
	logger.Info("received shutdown signal",
		slog.String("signal", sig.String()),
	)

	w.Stop()
	logger.Info("worker stopped gracefully")
	return nil
}
