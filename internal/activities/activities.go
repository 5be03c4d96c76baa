// Package activities implements the worker-side operations invoked from
// media generation workflows: request validation, calls to the external
// generation service, asset download, callback notification, audit writes,
// and cleanup.
package activities

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/mvidalg/genflow-api/internal/audit"
	"github.com/mvidalg/genflow-api/internal/gate"
	"github.com/mvidalg/genflow-api/internal/genapi"
	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/policy"
	"github.com/mvidalg/genflow-api/internal/storage"
)

// Default budgets for the in-activity image poll loop.
const (
	defaultImagePollBudget  = 10 * time.Minute
	initialImagePollBackoff = 1 * time.Second
	maxImagePollBackoff     = 4 * time.Second
)

// Activities bundles the dependencies shared by all activity functions.
// Register one instance per worker.
type Activities struct {
	client  genapi.Client
	store   storage.Storage
	auditor audit.Store
	gate    *gate.Gate
	logger  *slog.Logger

	imagePollBudget time.Duration
	gateTimeout     time.Duration
}

// Option configures an Activities instance.
type Option func(*Activities)

// WithImagePollBudget overrides how long GenerateImage waits for the
// external task to resolve.
func WithImagePollBudget(d time.Duration) Option {
	return func(a *Activities) {
		a.imagePollBudget = d
	}
}

// WithGateTimeout overrides how long external calls wait for a gate slot.
func WithGateTimeout(d time.Duration) Option {
	return func(a *Activities) {
		a.gateTimeout = d
	}
}

// New creates an Activities instance.
func New(client genapi.Client, store storage.Storage, auditor audit.Store, g *gate.Gate, logger *slog.Logger, opts ...Option) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if g == nil {
		g = gate.Default()
	}
	a := &Activities{
		client:          client,
		store:           store,
		auditor:         auditor,
		gate:            g,
		logger:          logger,
		imagePollBudget: defaultImagePollBudget,
		gateTimeout:     gate.DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerationResult is the outcome of a completed generation task.
type GenerationResult struct {
	TaskID   string `json:"task_id"`
	AssetURL string `json:"asset_url"`
}

// VideoStatusResult is one observation of an in-flight video task.
type VideoStatusResult struct {
	TaskID   string `json:"task_id"`
	Done     bool   `json:"done"`
	Success  bool   `json:"success"`
	Progress int    `json:"progress"`
	AssetURL string `json:"asset_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DownloadResultOutput describes a downloaded and persisted asset.
type DownloadResultOutput struct {
	StoredURL string `json:"stored_url"`
	// ScratchPath is set when the asset only reached local scratch storage;
	// the workflow cleans it up during finalization.
	ScratchPath string  `json:"scratch_path,omitempty"`
	SizeBytes   int64   `json:"size_bytes"`
	FileSizeMB  float64 `json:"file_size_mb"`
}

// NotificationInput is the payload for SendNotification.
type NotificationInput struct {
	CallbackURL string   `json:"callback_url"`
	RequestID   string   `json:"request_id"`
	Status      string   `json:"status"`
	AssetURLs   []string `json:"asset_urls,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ValidateRequest checks the job input and returns it with defaults applied.
// Failures are validation errors and never retried.
func (a *Activities) ValidateRequest(ctx context.Context, input model.JobInput) (model.JobInput, error) {
	logger := activity.GetLogger(ctx)

	if input.Width == 0 {
		input.Width = 1024
	}
	if input.Height == 0 {
		input.Height = 1024
	}
	if input.Style == "" {
		input.Style = "realistic"
	}

	if err := input.Validate(); err != nil {
		logger.Warn("request validation failed", "error", err)
		return model.JobInput{}, policy.NewValidationError(err.Error(), err)
	}

	logger.Info("request validated", "job_type", input.JobType, "strategy", input.EffectiveStrategy())
	return input, nil
}

// GenerateImage submits an image task and polls the external service until
// it resolves, heartbeating between polls. The gate slot is held from submit
// through the last poll, so a capacity-1 gate serializes entire image
// generations, not just their submits. Slow tasks exhaust the poll budget
// and fail with a timeout error the workflow maps to TIMEOUT.
func (a *Activities) GenerateImage(ctx context.Context, input model.JobInput) (GenerationResult, error) {
	logger := activity.GetLogger(ctx)

	var result GenerationResult
	err := a.withGate(ctx, "generate image", func(ctx context.Context) error {
		activity.RecordHeartbeat(ctx, "submitting image task")
		taskID, err := a.client.SubmitImage(ctx, genapi.ImageRequest{
			Prompt: input.Prompt,
			Width:  input.Width,
			Height: input.Height,
			Style:  input.Style,
		})
		if err != nil {
			return a.classifyExternal("submit image task", err)
		}

		logger.Info("image task submitted", "task_id", taskID)

		deadline := time.Now().Add(a.imagePollBudget)
		backoff := initialImagePollBackoff

		for {
			if time.Now().After(deadline) {
				return policy.NewKindError(policy.KindTimeout,
					fmt.Sprintf("image task %s did not resolve within %s", taskID, a.imagePollBudget), nil)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("generate image: %w", ctx.Err())
			case <-time.After(backoff):
			}
			if backoff < maxImagePollBackoff {
				backoff *= 2
			}

			activity.RecordHeartbeat(ctx, "polling image task "+taskID)

			state, err := a.client.TaskStatus(ctx, taskID)
			if err != nil {
				return a.classifyExternal("poll image task", err)
			}

			switch state.Status {
			case genapi.StatusCompleted:
				logger.Info("image task completed", "task_id", taskID, "asset_url", state.AssetURL)
				result = GenerationResult{TaskID: taskID, AssetURL: state.AssetURL}
				return nil
			case genapi.StatusFailed:
				return policy.NewKindError(policy.KindAPI,
					fmt.Sprintf("image task %s failed: %s", taskID, state.Error), nil)
			case genapi.StatusCancelled:
				return policy.NewValidationError(
					fmt.Sprintf("image task %s was cancelled by the service", taskID), nil)
			default:
				logger.Debug("image task in flight", "task_id", taskID, "status", state.Status, "progress", state.Progress)
			}
		}
	})
	if err != nil {
		return GenerationResult{}, err
	}
	return result, nil
}

// SubmitVideo submits a video task and returns the external task ID without
// waiting for completion. The workflow decides how to observe completion.
func (a *Activities) SubmitVideo(ctx context.Context, input model.JobInput, sourceImageURL string) (string, error) {
	logger := activity.GetLogger(ctx)

	var taskID string
	err := a.gate.With(ctx, a.gateTimeout, func(ctx context.Context) error {
		activity.RecordHeartbeat(ctx, "submitting video task")
		var err error
		taskID, err = a.client.SubmitVideo(ctx, genapi.VideoRequest{
			Prompt:          input.Prompt,
			Width:           input.Width,
			Height:          input.Height,
			DurationSeconds: input.Duration,
			Style:           input.Style,
			SourceImageURL:  sourceImageURL,
		})
		return err
	})
	if err != nil {
		return "", a.classifyExternal("submit video task", err)
	}

	logger.Info("video task submitted", "task_id", taskID)
	return taskID, nil
}

// CheckVideoStatus performs a single status observation for a video task,
// holding a gate slot for the call.
func (a *Activities) CheckVideoStatus(ctx context.Context, taskID string) (VideoStatusResult, error) {
	var state genapi.TaskState
	err := a.gate.With(ctx, a.gateTimeout, func(ctx context.Context) error {
		var err error
		state, err = a.client.TaskStatus(ctx, taskID)
		return err
	})
	if err != nil {
		return VideoStatusResult{}, a.classifyExternal("check video status", err)
	}

	result := VideoStatusResult{
		TaskID:   taskID,
		Progress: state.Progress,
	}
	switch state.Status {
	case genapi.StatusCompleted:
		result.Done = true
		result.Success = true
		result.AssetURL = state.AssetURL
	case genapi.StatusFailed:
		result.Done = true
		result.Error = state.Error
	case genapi.StatusCancelled:
		result.Done = true
		result.Error = "task cancelled by the service"
	}

	return result, nil
}

// DownloadResult fetches a generated asset and persists it, returning the
// durable URL. The gate slot is held across the fetch and the persist. When
// no durable backend is configured the scratch path is returned instead.
func (a *Activities) DownloadResult(ctx context.Context, assetURL, requestID string) (DownloadResultOutput, error) {
	logger := activity.GetLogger(ctx)

	var out DownloadResultOutput
	err := a.withGate(ctx, "download result", func(ctx context.Context) error {
		data, err := a.client.FetchArtifact(ctx, assetURL)
		if err != nil {
			return a.classifyExternal("fetch asset", err)
		}

		activity.RecordHeartbeat(ctx, "persisting asset for "+requestID)

		key := fmt.Sprintf("assets/%s", requestID)
		var scratchPath string
		storedURL, err := a.store.UploadAsset(ctx, key, bytes.NewReader(data))
		if errors.Is(err, storage.ErrUploadNotConfigured) {
			storedURL, err = a.store.SaveScratch(ctx, requestID, bytes.NewReader(data))
			scratchPath = storedURL
		}
		if err != nil {
			return policy.NewKindError(policy.KindAPI,
				fmt.Sprintf("persist asset: %v", err), err)
		}

		size := int64(len(data))
		logger.Info("asset persisted", "request_id", requestID, "stored_url", storedURL, "size_bytes", size)

		out = DownloadResultOutput{
			StoredURL:   storedURL,
			ScratchPath: scratchPath,
			SizeBytes:   size,
			FileSizeMB:  float64(size) / (1024 * 1024),
		}
		return nil
	})
	if err != nil {
		return DownloadResultOutput{}, err
	}
	return out, nil
}

// SendNotification posts a terminal-state callback. A missing callback URL
// is a successful no-op.
func (a *Activities) SendNotification(ctx context.Context, in NotificationInput) error {
	logger := activity.GetLogger(ctx)

	if in.CallbackURL == "" {
		logger.Debug("no callback URL configured, skipping notification", "request_id", in.RequestID)
		return nil
	}

	err := a.gate.With(ctx, a.gateTimeout, func(ctx context.Context) error {
		return a.client.Notify(ctx, in.CallbackURL, genapi.Notification{
			RequestID: in.RequestID,
			Status:    in.Status,
			AssetURLs: in.AssetURLs,
			Error:     in.Error,
		})
	})
	if err != nil {
		return a.classifyExternal("send notification", err)
	}

	logger.Info("notification delivered", "request_id", in.RequestID, "status", in.Status)
	return nil
}

// CleanupResources removes scratch files left behind by a workflow run.
func (a *Activities) CleanupResources(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := a.store.Cleanup(ctx, paths); err != nil {
		return fmt.Errorf("cleanup resources: %w", err)
	}
	return nil
}

// RecordAuditEvent writes one audit entry. Audit failures are logged and
// swallowed so bookkeeping can never fail a workflow.
func (a *Activities) RecordAuditEvent(ctx context.Context, e audit.Entry) error {
	if a.auditor == nil {
		return nil
	}
	if _, err := a.auditor.LogEvent(ctx, e); err != nil {
		activity.GetLogger(ctx).Warn("audit write failed",
			"workflow_id", e.WorkflowID, "event_type", e.EventType, "error", err)
	}
	return nil
}

// CleanupAuditLogs deletes audit entries past the retention window and
// returns the number removed.
func (a *Activities) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	if a.auditor == nil {
		return 0, nil
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	removed, err := a.auditor.CleanupOldEntries(ctx, time.Duration(retentionDays)*24*time.Hour)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	a.logger.Info("audit log cleanup complete", "retention_days", retentionDays, "removed", removed)
	return removed, nil
}

// withGate runs fn under a gate slot. Errors fn classified itself pass
// through untouched; an acquisition timeout is mapped onto the retryable
// gate-timeout kind.
func (a *Activities) withGate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := a.gate.With(ctx, a.gateTimeout, fn)
	if errors.Is(err, gate.ErrAcquireTimeout) {
		return a.classifyExternal(op, err)
	}
	return err
}

// classifyExternal maps transport-level failures onto the error kinds the
// retry policies act on.
func (a *Activities) classifyExternal(op string, err error) error {
	msg := fmt.Sprintf("%s: %v", op, err)

	switch {
	case errors.Is(err, gate.ErrAcquireTimeout):
		return policy.NewKindError(policy.KindGateTimeout, msg, err)
	case errors.Is(err, genapi.ErrRateLimited):
		return policy.NewKindError(policy.KindRateLimit, msg, err)
	case errors.Is(err, genapi.ErrServerError):
		return policy.NewKindError(policy.KindAPI, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return policy.NewKindError(policy.KindTimeout, msg, err)
	case errors.Is(err, genapi.ErrRequestFailed), errors.Is(err, genapi.ErrSubmitFailed):
		return policy.NewValidationError(msg, err)
	default:
		return policy.NewKindError(policy.KindNetwork, msg, err)
	}
}
