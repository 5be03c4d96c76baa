// Package workflows contains the durable media generation workflow: a
// state machine that validates a job, drives external generation, observes
// completion through polling, signals, or both, and projects its progress
// into search attributes and the audit trail.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mvidalg/genflow-api/internal/activities"
	"github.com/mvidalg/genflow-api/internal/audit"
	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/policy"
	"github.com/mvidalg/genflow-api/internal/search"
)

// TaskQueue is the queue workers and the gateway share.
const TaskQueue = "genflow-media"

// Signal and query names exposed by the workflow.
const (
	SignalGenerationDone = "generation_done"
	SignalCancel         = "cancel_generation"
	SignalUpdateProgress = "update_progress"

	QueryGetProgress = "get_progress"
	QueryGetStatus   = "get_status"
)

// Error codes carried by terminal results.
const (
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeCancelled        = "CANCELLED"
	CodeValidationFailed = "VALIDATION_FAILED"
)

// Timing constants for the completion strategies.
const (
	pollInterval       = 30 * time.Second
	maxPolls           = 60
	signalWaitTimeout  = 600 * time.Second
	hybridSignalWindow = 30 * time.Second
	hybridPollInterval = 5 * time.Second
)

// Progress percentages for the fixed workflow steps.
const (
	percentValidated    = 5
	percentSubmitted    = 20
	percentImageDone    = 45
	percentWaitStart    = 50
	percentWaitEnd      = 75
	percentDownloadDone = 90
	percentNotified     = 95
)

// acts is never instantiated; it only resolves activity names for
// ExecuteActivity without stringly-typed references.
var acts *activities.Activities

// completionOutcome is the resolved end of the external generation phase,
// whichever strategy produced it.
type completionOutcome struct {
	success   bool
	assetURL  string
	errMsg    string
	cancelled bool
	timedOut  bool
}

// run holds the mutable state of one workflow execution.
type run struct {
	state model.WorkflowState

	// completion latches the first terminal report, whether it came from a
	// callback signal, a cancel request, or polling. Later reports are
	// ignored.
	completion *model.CompletionSignal

	// waitExpired marks that the signal wait window closed; signals that
	// arrive afterwards are logged and dropped.
	waitExpired bool

	externalTaskID string
	scratchPaths   []string
}

// MediaGenerationWorkflow generates an image or a video from a text prompt.
// Image jobs resolve inside a single long-running activity; video jobs are
// seeded with a generated image, submitted, and then observed through the
// job's completion strategy.
func MediaGenerationWorkflow(ctx workflow.Context, input model.JobInput) (model.JobResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	workflowID := info.WorkflowExecution.ID

	state, err := model.NewWorkflowState(workflowID, input, workflow.Now(ctx).UTC())
	if err != nil {
		return model.JobResult{}, err
	}
	r := &run{state: state}

	if err := r.registerQueries(ctx); err != nil {
		return model.JobResult{}, err
	}
	r.startSignalDrainers(ctx)

	r.audit(ctx, audit.EventWorkflowStarted, string(model.StepInitialization), string(model.StatusPending),
		fmt.Sprintf("job_type=%s strategy=%s", input.JobType, input.EffectiveStrategy()))

	// Finalization always runs: cleanup, a final projection, and the
	// terminal audit record.
	defer r.finalize(ctx)

	// Step 1: validation.
	validated, err := r.validate(ctx)
	if err != nil {
		return r.fail(ctx, CodeValidationFailed, err), nil
	}
	r.state.JobInput = validated

	// Step 2: generation.
	outcome, err := r.generate(ctx, validated)
	if err != nil {
		return r.fail(ctx, CodeGenerationFailed, err), nil
	}
	switch {
	case outcome.cancelled:
		return r.cancel(ctx, outcome), nil
	case outcome.timedOut:
		return r.timeout(ctx, outcome), nil
	case !outcome.success:
		return r.fail(ctx, CodeGenerationFailed, errors.New(outcome.errMsg)), nil
	}

	result := model.JobResult{
		RequestID: workflowID,
		Success:   true,
		Status:    model.StatusCompleted,
		Metadata:  map[string]string{},
	}

	// Step 3: download. A failure here does not fail the job; the asset
	// still exists at the service URL.
	if outcome.assetURL != "" {
		stored, err := r.download(ctx, outcome.assetURL, workflowID)
		if err != nil {
			logger.Warn("asset download failed, completing with service URL",
				"asset_url", outcome.assetURL, "error", err)
			r.state.RecordError(err.Error())
			r.state.AddResultURL(outcome.assetURL)
			result.Metadata["download_error"] = err.Error()
			r.audit(ctx, audit.EventErrorRecorded, string(model.StepDownload), string(model.StatusFailed), err.Error())
		} else {
			r.state.AddResultURL(stored.StoredURL)
			r.state.AddAssetSize(stored.FileSizeMB)
			result.Metadata["file_size_mb"] = fmt.Sprintf("%.2f", stored.FileSizeMB)
		}
	}
	result.AssetURLs = r.state.ResultURLs

	// Step 4: notification, best effort.
	r.notify(ctx, activities.NotificationInput{
		CallbackURL: validated.CallbackURL,
		RequestID:   workflowID,
		Status:      string(model.StatusCompleted),
		AssetURLs:   result.AssetURLs,
	})

	// Step 5: completion.
	r.updateProgress(ctx, model.StepCompletion, model.StatusCompleted, 100,
		model.WithMessage("generation complete"))
	r.audit(ctx, audit.EventWorkflowCompleted, string(model.StepCompletion), string(model.StatusCompleted), "")

	result.DurationSeconds = r.state.Duration()
	result.RetryCount = r.state.RetryCount
	return result, nil
}

// CleanupWorkflow prunes audit entries past the retention window. Run it on
// a schedule.
func CleanupWorkflow(ctx workflow.Context, retentionDays int) (int64, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		// Retention pruning is scheduled housekeeping; none of the
		// per-operation tiers fit, so it gets a patient one-off policy.
		RetryPolicy: policy.Custom(5*time.Second, 2.0, 3, time.Minute),
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var removed int64
	err := workflow.ExecuteActivity(ctx, acts.CleanupAuditLogs, retentionDays).Get(ctx, &removed)
	return removed, err
}

func (r *run) registerQueries(ctx workflow.Context) error {
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (model.Progress, error) {
		return r.state.CurrentProgress, nil
	}); err != nil {
		return fmt.Errorf("register %s: %w", QueryGetProgress, err)
	}

	if err := workflow.SetQueryHandler(ctx, QueryGetStatus, func() (model.StatusSnapshot, error) {
		cur := r.state.CurrentProgress
		return model.StatusSnapshot{
			WorkflowID:    r.state.WorkflowID,
			Step:          cur.Step,
			Status:        cur.Status,
			Percent:       cur.Percent,
			Message:       cur.Message,
			ErrorMessage:  cur.ErrorMessage,
			AssetURL:      cur.AssetURL,
			ExternalJobID: r.externalTaskID,
			StartedAt:     r.state.StartedAt,
			RetryCount:    r.state.RetryCount,
		}, nil
	}); err != nil {
		return fmt.Errorf("register %s: %w", QueryGetStatus, err)
	}

	return nil
}

// startSignalDrainers runs one goroutine per signal channel for the life of
// the workflow. The first terminal report wins; everything after it is
// drained and dropped so duplicate callbacks stay idempotent.
func (r *run) startSignalDrainers(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)

	doneCh := workflow.GetSignalChannel(ctx, SignalGenerationDone)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig model.CompletionSignal
			doneCh.Receive(gctx, &sig)
			switch {
			case r.completion != nil:
				logger.Info("duplicate completion signal ignored", "job_id", sig.JobID)
			case r.waitExpired:
				logger.Warn("completion signal arrived after the wait window closed", "job_id", sig.JobID)
			default:
				s := sig
				r.completion = &s
			}
		}
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var reason string
			cancelCh.Receive(gctx, &reason)
			if r.completion != nil {
				logger.Info("cancel request ignored, generation already resolved")
				continue
			}
			if reason == "" {
				reason = "cancelled by request"
			}
			// A cancel is just a synthetic completion report; it flows
			// through the same resolution path as a callback.
			r.completion = &model.CompletionSignal{Cancelled: true, Error: reason}
		}
	})

	progressCh := workflow.GetSignalChannel(ctx, SignalUpdateProgress)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig model.ProgressUpdateSignal
			progressCh.Receive(gctx, &sig)
			if r.state.IsTerminal() {
				continue
			}
			p, err := model.NewProgress(sig.Step, sig.Status, sig.Percent,
				model.WithMessage(sig.Message),
				model.WithUpdatedAt(workflow.Now(gctx).UTC()))
			if err != nil {
				logger.Warn("rejected external progress update", "error", err)
				continue
			}
			r.state.AddProgressUpdate(p)
			r.project(gctx)
			r.audit(gctx, audit.EventStateUpdated, string(sig.Step), string(sig.Status),
				fmt.Sprintf("external progress update: %d%%", sig.Percent))
		}
	})
}

func (r *run) validate(ctx workflow.Context) (model.JobInput, error) {
	r.updateProgress(ctx, model.StepValidation, model.StatusInProgress, percentValidated,
		model.WithMessage("validating request"))
	r.audit(ctx, audit.EventStepStarted, string(model.StepValidation), string(model.StatusInProgress), "")

	actx := r.withOptions(ctx, "ValidateRequest", time.Minute, 0)

	var validated model.JobInput
	if err := workflow.ExecuteActivity(actx, acts.ValidateRequest, r.state.JobInput).Get(actx, &validated); err != nil {
		r.audit(ctx, audit.EventStepFailed, string(model.StepValidation), string(model.StatusFailed), err.Error())
		return model.JobInput{}, err
	}

	r.audit(ctx, audit.EventStepCompleted, string(model.StepValidation), string(model.StatusCompleted), "")
	return validated, nil
}

// generate runs the external generation phase and resolves its outcome.
func (r *run) generate(ctx workflow.Context, input model.JobInput) (completionOutcome, error) {
	switch input.JobType {
	case model.JobTypeVideo:
		return r.generateVideo(ctx, input)
	default:
		return r.generateImage(ctx, input)
	}
}

// generateImage resolves inside a single long-running activity that polls
// the service itself, heartbeating as it goes.
func (r *run) generateImage(ctx workflow.Context, input model.JobInput) (completionOutcome, error) {
	r.updateProgress(ctx, model.StepImage, model.StatusInProgress, percentSubmitted,
		model.WithMessage("generating image"))
	r.audit(ctx, audit.EventStepStarted, string(model.StepImage), string(model.StatusInProgress), "")

	actx := r.withOptions(ctx, "GenerateImage", 15*time.Minute, time.Minute)

	var gen activities.GenerationResult
	if err := workflow.ExecuteActivity(actx, acts.GenerateImage, input).Get(actx, &gen); err != nil {
		// A cancel signal may have raced the activity.
		if r.completion != nil && r.completion.Cancelled {
			return completionOutcome{cancelled: true, errMsg: r.completion.Error}, nil
		}
		r.recordActivityFailure(ctx, model.StepImage, err)
		if errorCode(err) == policy.KindTimeout {
			return completionOutcome{timedOut: true, errMsg: err.Error()}, nil
		}
		return completionOutcome{}, err
	}

	r.externalTaskID = gen.TaskID
	if r.completion != nil && r.completion.Cancelled {
		return completionOutcome{cancelled: true, errMsg: r.completion.Error}, nil
	}

	r.updateProgress(ctx, model.StepImage, model.StatusInProgress, percentWaitEnd,
		model.WithMessage("image generated"), model.WithAssetURL(gen.AssetURL))
	r.audit(ctx, audit.EventStepCompleted, string(model.StepImage), string(model.StatusCompleted), gen.TaskID)

	return completionOutcome{success: true, assetURL: gen.AssetURL}, nil
}

// generateVideo seeds the video with a generated image, submits the video
// task, then observes completion through the job's strategy.
func (r *run) generateVideo(ctx workflow.Context, input model.JobInput) (completionOutcome, error) {
	// Seed image. The video model animates a still frame, so the image
	// prompt is the same as the video prompt.
	seedInput := input
	seedInput.JobType = model.JobTypeImage
	seedInput.Duration = 0

	seed, err := r.generateSeedImage(ctx, seedInput)
	if err != nil {
		return completionOutcome{}, err
	}
	if r.completion != nil && r.completion.Cancelled {
		return completionOutcome{cancelled: true, errMsg: r.completion.Error}, nil
	}

	r.updateProgress(ctx, model.StepSubmission, model.StatusInProgress, percentWaitStart,
		model.WithMessage("submitting video task"))
	r.audit(ctx, audit.EventStepStarted, string(model.StepVideo), string(model.StatusInProgress), "")

	actx := r.withOptions(ctx, "SubmitVideo", 5*time.Minute, time.Minute)

	var taskID string
	if err := workflow.ExecuteActivity(actx, acts.SubmitVideo, input, seed.AssetURL).Get(actx, &taskID); err != nil {
		r.recordActivityFailure(ctx, model.StepVideo, err)
		return completionOutcome{}, err
	}
	r.externalTaskID = taskID

	outcome := r.await(ctx, input.EffectiveStrategy(), taskID)
	if outcome.success {
		r.audit(ctx, audit.EventStepCompleted, string(model.StepVideo), string(model.StatusCompleted), taskID)
	}
	return outcome, nil
}

func (r *run) generateSeedImage(ctx workflow.Context, input model.JobInput) (activities.GenerationResult, error) {
	r.updateProgress(ctx, model.StepImage, model.StatusInProgress, percentSubmitted,
		model.WithMessage("generating seed image"))

	actx := r.withOptions(ctx, "GenerateImage", 15*time.Minute, time.Minute)

	var gen activities.GenerationResult
	if err := workflow.ExecuteActivity(actx, acts.GenerateImage, input).Get(actx, &gen); err != nil {
		r.recordActivityFailure(ctx, model.StepImage, err)
		return activities.GenerationResult{}, err
	}

	r.updateProgress(ctx, model.StepImage, model.StatusInProgress, percentImageDone,
		model.WithMessage("seed image ready"), model.WithAssetURL(gen.AssetURL))
	return gen, nil
}

// await dispatches to the configured completion strategy.
func (r *run) await(ctx workflow.Context, strategy model.CompletionStrategy, taskID string) completionOutcome {
	switch strategy {
	case model.StrategySignal:
		return r.awaitSignal(ctx)
	case model.StrategyHybrid:
		return r.awaitHybrid(ctx, taskID)
	default:
		return r.awaitPoll(ctx, taskID, pollInterval, maxPolls)
	}
}

// awaitPoll checks the external task on a fixed interval. The wait between
// polls wakes early when a signal or cancel resolves the run first.
func (r *run) awaitPoll(ctx workflow.Context, taskID string, interval time.Duration, budget int) completionOutcome {
	logger := workflow.GetLogger(ctx)

	for attempt := 1; attempt <= budget; attempt++ {
		resolved, err := workflow.AwaitWithTimeout(ctx, interval, func() bool {
			return r.completion != nil
		})
		if err != nil {
			return completionOutcome{cancelled: true, errMsg: "workflow cancelled"}
		}
		if resolved {
			return r.fromSignal(ctx)
		}

		actx := r.withOptions(ctx, "CheckVideoStatus", time.Minute, 0)

		var status activities.VideoStatusResult
		if err := workflow.ExecuteActivity(actx, acts.CheckVideoStatus, taskID).Get(actx, &status); err != nil {
			r.recordActivityFailure(ctx, model.StepProcessing, err)
			return completionOutcome{errMsg: err.Error()}
		}

		if status.Done {
			if status.Success {
				return completionOutcome{success: true, assetURL: status.AssetURL}
			}
			return completionOutcome{errMsg: status.Error}
		}

		percent := percentWaitStart + (percentWaitEnd-percentWaitStart)*attempt/budget
		r.updateProgress(ctx, model.StepProcessing, model.StatusInProgress, percent,
			model.WithMessage(fmt.Sprintf("waiting on task %s (%d%% reported)", taskID, status.Progress)))
		logger.Debug("task still in flight", "task_id", taskID, "attempt", attempt, "reported", status.Progress)
	}

	return completionOutcome{
		timedOut: true,
		errMsg:   fmt.Sprintf("task %s did not resolve within %d polls", taskID, budget),
	}
}

// awaitSignal suspends until a completion signal arrives or the wait window
// closes. Signals that land after the window are dropped by the drainer.
func (r *run) awaitSignal(ctx workflow.Context) completionOutcome {
	r.updateProgress(ctx, model.StepProcessing, model.StatusInProgress, percentWaitStart,
		model.WithMessage("waiting for completion callback"))

	resolved, err := workflow.AwaitWithTimeout(ctx, signalWaitTimeout, func() bool {
		return r.completion != nil
	})
	if err != nil {
		return completionOutcome{cancelled: true, errMsg: "workflow cancelled"}
	}
	if !resolved {
		r.waitExpired = true
		return completionOutcome{
			timedOut: true,
			errMsg:   fmt.Sprintf("no completion callback within %s", signalWaitTimeout),
		}
	}

	return r.fromSignal(ctx)
}

// awaitHybrid gives the callback a short head start, then falls back to
// tight polling so a lost callback only costs the window.
func (r *run) awaitHybrid(ctx workflow.Context, taskID string) completionOutcome {
	r.updateProgress(ctx, model.StepProcessing, model.StatusInProgress, percentWaitStart,
		model.WithMessage("waiting for callback before polling"))

	resolved, err := workflow.AwaitWithTimeout(ctx, hybridSignalWindow, func() bool {
		return r.completion != nil
	})
	if err != nil {
		return completionOutcome{cancelled: true, errMsg: "workflow cancelled"}
	}
	if resolved {
		return r.fromSignal(ctx)
	}

	workflow.GetLogger(ctx).Info("no callback within window, falling back to polling",
		"task_id", taskID, "window", hybridSignalWindow)
	return r.awaitPoll(ctx, taskID, hybridPollInterval, maxPolls)
}

// fromSignal converts the latched completion report into an outcome.
func (r *run) fromSignal(ctx workflow.Context) completionOutcome {
	sig := r.completion
	if sig.Cancelled {
		return completionOutcome{cancelled: true, errMsg: sig.Error}
	}
	if !sig.Success {
		return completionOutcome{errMsg: sig.Error}
	}
	r.updateProgress(ctx, model.StepProcessing, model.StatusInProgress, percentWaitEnd,
		model.WithMessage("completion callback received"), model.WithAssetURL(sig.AssetURL))
	return completionOutcome{success: true, assetURL: sig.AssetURL}
}

func (r *run) download(ctx workflow.Context, assetURL, requestID string) (activities.DownloadResultOutput, error) {
	r.updateProgress(ctx, model.StepDownload, model.StatusInProgress, percentWaitEnd+5,
		model.WithMessage("downloading asset"))
	r.audit(ctx, audit.EventStepStarted, string(model.StepDownload), string(model.StatusInProgress), "")

	actx := r.withOptions(ctx, "DownloadResult", 5*time.Minute, time.Minute)

	var out activities.DownloadResultOutput
	if err := workflow.ExecuteActivity(actx, acts.DownloadResult, assetURL, requestID).Get(actx, &out); err != nil {
		return activities.DownloadResultOutput{}, err
	}

	if out.ScratchPath != "" {
		r.scratchPaths = append(r.scratchPaths, out.ScratchPath)
	}
	r.updateProgress(ctx, model.StepDownload, model.StatusInProgress, percentDownloadDone,
		model.WithMessage("asset stored"), model.WithAssetURL(out.StoredURL))
	r.audit(ctx, audit.EventStepCompleted, string(model.StepDownload), string(model.StatusCompleted), out.StoredURL)
	return out, nil
}

// notify delivers the terminal callback, on success and failure alike.
// Delivery failures are recorded and dropped; notification can never change
// the job outcome.
func (r *run) notify(ctx workflow.Context, in activities.NotificationInput) {
	if in.CallbackURL == "" {
		return
	}

	// Only the success path advances progress; terminal failure snapshots
	// are already in place when a failure notification goes out.
	if in.Status == string(model.StatusCompleted) {
		r.updateProgress(ctx, model.StepNotification, model.StatusInProgress, percentNotified,
			model.WithMessage("notifying caller"))
	}

	actx := r.withOptions(ctx, "SendNotification", 2*time.Minute, 0)

	if err := workflow.ExecuteActivity(actx, acts.SendNotification, in).Get(actx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("notification delivery failed", "error", err)
		r.state.RecordError(err.Error())
		r.audit(ctx, audit.EventErrorRecorded, string(model.StepNotification), string(model.StatusFailed), err.Error())
	}
}

// fail records the terminal failure and builds the FAILED result.
func (r *run) fail(ctx workflow.Context, code string, err error) model.JobResult {
	msg := err.Error()
	r.state.RecordError(msg)
	r.updateProgress(ctx, model.StepErrorHandling, model.StatusFailed, r.state.CurrentProgress.Percent,
		model.WithError(msg))
	r.audit(ctx, audit.EventWorkflowFailed, string(model.StepErrorHandling), string(model.StatusFailed), msg)

	if kind := errorCode(err); kind == policy.KindTimeout {
		code = policy.CodeTimeout
	}

	r.notify(ctx, activities.NotificationInput{
		CallbackURL: r.state.JobInput.CallbackURL,
		RequestID:   r.state.WorkflowID,
		Status:      string(model.StatusFailed),
		AssetURLs:   r.state.ResultURLs,
		Error:       msg,
	})

	return model.JobResult{
		RequestID:       r.state.WorkflowID,
		Success:         false,
		Status:          model.StatusFailed,
		ErrorMessage:    msg,
		ErrorCode:       code,
		DurationSeconds: r.state.Duration(),
		RetryCount:      r.state.RetryCount,
	}
}

// timeout records a wait-window or poll-budget expiry as FAILED/TIMEOUT.
func (r *run) timeout(ctx workflow.Context, outcome completionOutcome) model.JobResult {
	r.state.RecordError(outcome.errMsg)
	r.updateProgress(ctx, model.StepErrorHandling, model.StatusFailed, r.state.CurrentProgress.Percent,
		model.WithError(outcome.errMsg))
	r.audit(ctx, audit.EventWorkflowFailed, string(model.StepErrorHandling), string(model.StatusFailed), outcome.errMsg)

	r.notify(ctx, activities.NotificationInput{
		CallbackURL: r.state.JobInput.CallbackURL,
		RequestID:   r.state.WorkflowID,
		Status:      string(model.StatusFailed),
		Error:       outcome.errMsg,
	})

	return model.JobResult{
		RequestID:       r.state.WorkflowID,
		Success:         false,
		Status:          model.StatusFailed,
		ErrorMessage:    outcome.errMsg,
		ErrorCode:       policy.CodeTimeout,
		DurationSeconds: r.state.Duration(),
		RetryCount:      r.state.RetryCount,
	}
}

// cancel records a cancel request as the CANCELLED terminal state.
func (r *run) cancel(ctx workflow.Context, outcome completionOutcome) model.JobResult {
	r.updateProgress(ctx, model.StepErrorHandling, model.StatusCancelled, r.state.CurrentProgress.Percent,
		model.WithMessage(outcome.errMsg))
	r.audit(ctx, audit.EventWorkflowFailed, string(model.StepErrorHandling), string(model.StatusCancelled), outcome.errMsg)

	r.notify(ctx, activities.NotificationInput{
		CallbackURL: r.state.JobInput.CallbackURL,
		RequestID:   r.state.WorkflowID,
		Status:      string(model.StatusCancelled),
		Error:       outcome.errMsg,
	})

	return model.JobResult{
		RequestID:       r.state.WorkflowID,
		Success:         false,
		Status:          model.StatusCancelled,
		ErrorMessage:    outcome.errMsg,
		ErrorCode:       CodeCancelled,
		DurationSeconds: r.state.Duration(),
		RetryCount:      r.state.RetryCount,
	}
}

// finalize releases scratch resources. It runs on every exit path.
func (r *run) finalize(ctx workflow.Context) {
	if len(r.scratchPaths) == 0 {
		return
	}

	actx := r.withOptions(ctx, "CleanupResources", 2*time.Minute, 0)
	if err := workflow.ExecuteActivity(actx, acts.CleanupResources, r.scratchPaths).Get(actx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("scratch cleanup failed", "error", err)
	}
}

// updateProgress mutates the aggregate and projects the change. Bad
// snapshots are rejected at construction and never reach history.
func (r *run) updateProgress(ctx workflow.Context, step model.Step, status model.Status, percent int, opts ...model.ProgressOption) {
	opts = append(opts, model.WithUpdatedAt(workflow.Now(ctx).UTC()))
	p, err := model.NewProgress(step, status, percent, opts...)
	if err != nil {
		workflow.GetLogger(ctx).Error("invalid progress update dropped",
			"step", step, "status", status, "percent", percent, "error", err)
		return
	}
	r.state.AddProgressUpdate(p)
	r.project(ctx)
}

// project upserts search attributes for the current state. Projection
// failures are logged; visibility lag never fails the workflow.
func (r *run) project(ctx workflow.Context) {
	updates, err := search.FromState(r.state.WorkflowID, &r.state)
	if err != nil {
		workflow.GetLogger(ctx).Warn("search attribute projection rejected", "error", err)
		return
	}
	if err := workflow.UpsertTypedSearchAttributes(ctx, updates...); err != nil {
		workflow.GetLogger(ctx).Warn("search attribute upsert failed", "error", err)
	}
}

// audit records a lifecycle event, best effort.
func (r *run) audit(ctx workflow.Context, event audit.EventType, step, status, message string) {
	actx := r.withOptions(ctx, "RecordAuditEvent", 30*time.Second, 0)

	entry := audit.Entry{
		WorkflowID: r.state.WorkflowID,
		RunID:      workflow.GetInfo(ctx).WorkflowExecution.RunID,
		EventType:  event,
		Step:       step,
		Status:     status,
		Message:    message,
		CreatedAt:  workflow.Now(ctx).UTC(),
	}
	if err := workflow.ExecuteActivity(actx, acts.RecordAuditEvent, entry).Get(actx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("audit event dropped", "event_type", event, "error", err)
	}
}

// recordActivityFailure tracks an activity failure in the aggregate and the
// audit trail. Retryable failures that exhausted their attempts are counted
// as retries so the projection reflects how bumpy the run was.
func (r *run) recordActivityFailure(ctx workflow.Context, step model.Step, err error) {
	if policy.IsRetryable(err) {
		r.state.IncrementRetry(err.Error())
		r.audit(ctx, audit.EventRetryAttempted, string(step), string(model.StatusRetrying), err.Error())
	} else {
		r.state.RecordError(err.Error())
	}
	r.audit(ctx, audit.EventStepFailed, string(step), string(model.StatusFailed), err.Error())
}

// withOptions applies the retry tier and timeouts for one activity.
func (r *run) withOptions(ctx workflow.Context, operation string, startToClose, heartbeat time.Duration) workflow.Context {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: startToClose,
		HeartbeatTimeout:    heartbeat,
		RetryPolicy:         policy.ForOperation(operation),
	}
	return workflow.WithActivityOptions(ctx, ao)
}

// errorCode extracts the application error kind from a (possibly wrapped)
// activity failure.
func errorCode(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
