// Package bootstrap provides dependency initialization for the genflow services.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/mvidalg/genflow-api/internal/activities"
	"github.com/mvidalg/genflow-api/internal/audit"
	"github.com/mvidalg/genflow-api/internal/config"
	"github.com/mvidalg/genflow-api/internal/gate"
	"github.com/mvidalg/genflow-api/internal/genapi"
	"github.com/mvidalg/genflow-api/internal/storage"
)

// Dependencies holds all initialized dependencies shared by the worker and
// the HTTP gateway.
type Dependencies struct {
	TemporalClient client.Client
	Activities     *activities.Activities
	Auditor        audit.Store

	auditCloser func()
}

// Close releases every held connection. Safe to call once shutdown starts.
func (d *Dependencies) Close() {
	if d.TemporalClient != nil {
		d.TemporalClient.Close()
	}
	if d.auditCloser != nil {
		d.auditCloser()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		temporalClient.Close()
		return nil, err
	}

	auditor, auditCloser, err := initAudit(ctx, cfg, logger)
	if err != nil {
		temporalClient.Close()
		return nil, err
	}

	genClient, err := genapi.NewClient(cfg.GenAPIBaseURL, genapi.WithAPIKey(cfg.GenAPIKey))
	if err != nil {
		temporalClient.Close()
		auditCloser()
		return nil, fmt.Errorf("create generation client: %w", err)
	}

	// Slot acquisitions heartbeat on behalf of the acquiring activity so
	// saturation waits do not trip heartbeat timeouts.
	g := gate.New(cfg.GateCapacity, gate.WithHeartbeat(func(ctx context.Context) {
		if activity.IsActivity(ctx) {
			activity.RecordHeartbeat(ctx, "generation slot acquired")
		}
	}))

	acts := activities.New(
		genClient,
		store,
		auditor,
		g,
		logger,
		activities.WithGateTimeout(cfg.GateTimeout),
	)

	return &Dependencies{
		TemporalClient: temporalClient,
		Activities:     acts,
		Auditor:        auditor,
		auditCloser:    auditCloser,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			KeyPrefix:       cfg.S3KeyPrefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.ScratchDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("scratch_dir", cfg.ScratchDir),
	)
	return localStore, nil
}

// initAudit creates the audit store. With no database configured it falls
// back to an in-memory store, which does not survive restarts.
func initAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	if !cfg.AuditEnabled() {
		logger.Info("audit database not configured, using in-memory store")
		return audit.NewMemoryStore(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pgStore, err := audit.NewPostgresStore(connectCtx, cfg.AuditDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create audit store: %w", err)
	}
	logger.Info("postgres audit store configured")
	return pgStore, pgStore.Close, nil
}
