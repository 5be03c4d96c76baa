package workflows

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/policy"
)

// Batch signal and query names.
const (
	SignalPauseBatch  = "pause_batch"
	SignalResumeBatch = "resume_batch"
	SignalCancelBatch = "cancel_batch"

	QueryGetBatchProgress = "get_batch_progress"
)

// defaultMaxParallel bounds concurrent items when the caller does not.
const defaultMaxParallel = 3

// BatchInput describes a batch of generation jobs processed as one unit.
type BatchInput struct {
	Items []model.JobInput `json:"items"`
	// Parallel runs items concurrently, bounded by MaxParallel. Sequential
	// processing is the default.
	Parallel    bool `json:"parallel,omitempty"`
	MaxParallel int  `json:"max_parallel,omitempty"`
}

// BatchProgress is the live snapshot served by the batch progress query.
type BatchProgress struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Paused    bool `json:"paused"`
	Cancelled bool `json:"cancelled"`
}

// BatchResult is the terminal outcome of a batch, one entry per item in
// submission order.
type BatchResult struct {
	RequestID       string            `json:"request_id"`
	Total           int               `json:"total"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	Cancelled       bool              `json:"cancelled"`
	Results         []model.JobResult `json:"results"`
	DurationSeconds float64           `json:"duration_seconds"`
}

// batchRun holds the mutable state of one batch execution. All fields are
// touched only from workflow coroutines, which are cooperatively scheduled.
type batchRun struct {
	paused    bool
	cancelled bool

	completed int
	succeeded int
	failed    int

	cancelChildren workflow.CancelFunc
}

// BatchGenerationWorkflow drives a set of generation jobs as child
// workflows. Items run sequentially by default or concurrently with a bound.
// The batch can be paused and resumed between item launches, and cancelled
// outright; a cancel also cancels in-flight children. Individual item
// failures never fail the batch.
func BatchGenerationWorkflow(ctx workflow.Context, input BatchInput) (BatchResult, error) {
	logger := workflow.GetLogger(ctx)
	batchID := workflow.GetInfo(ctx).WorkflowExecution.ID
	started := workflow.Now(ctx)

	if len(input.Items) == 0 {
		return BatchResult{}, temporal.NewNonRetryableApplicationError(
			"batch has no items", policy.KindValidation, nil)
	}

	b := &batchRun{}
	cctx, cancelChildren := workflow.WithCancel(ctx)
	b.cancelChildren = cancelChildren

	if err := workflow.SetQueryHandler(ctx, QueryGetBatchProgress, func() (BatchProgress, error) {
		return BatchProgress{
			Total:     len(input.Items),
			Completed: b.completed,
			Succeeded: b.succeeded,
			Failed:    b.failed,
			Paused:    b.paused,
			Cancelled: b.cancelled,
		}, nil
	}); err != nil {
		return BatchResult{}, fmt.Errorf("register %s: %w", QueryGetBatchProgress, err)
	}

	b.drainSignals(ctx)

	logger.Info("batch started", "batch_id", batchID, "items", len(input.Items), "parallel", input.Parallel)

	results := make([]model.JobResult, len(input.Items))
	if input.Parallel {
		b.runParallel(ctx, cctx, batchID, input, results)
	} else {
		b.runSequential(ctx, cctx, batchID, input, results)
	}

	logger.Info("batch finished", "batch_id", batchID,
		"succeeded", b.succeeded, "failed", b.failed, "cancelled", b.cancelled)

	return BatchResult{
		RequestID:       batchID,
		Total:           len(input.Items),
		Succeeded:       b.succeeded,
		Failed:          b.failed,
		Cancelled:       b.cancelled,
		Results:         results,
		DurationSeconds: workflow.Now(ctx).Sub(started).Seconds(),
	}, nil
}

// drainSignals runs one goroutine per batch control signal for the life of
// the workflow, mirroring the per-job signal drainers.
func (b *batchRun) drainSignals(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)

	pauseCh := workflow.GetSignalChannel(ctx, SignalPauseBatch)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			pauseCh.Receive(gctx, nil)
			if b.cancelled {
				logger.Info("pause ignored, batch already cancelled")
				continue
			}
			b.paused = true
			logger.Info("batch paused")
		}
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResumeBatch)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			resumeCh.Receive(gctx, nil)
			b.paused = false
			logger.Info("batch resumed")
		}
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancelBatch)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var reason string
			cancelCh.Receive(gctx, &reason)
			if b.cancelled {
				continue
			}
			b.cancelled = true
			b.paused = false
			b.cancelChildren()
			logger.Info("batch cancelled", "reason", reason)
		}
	})
}

// runSequential processes items one at a time, honoring pause between items.
func (b *batchRun) runSequential(ctx, cctx workflow.Context, batchID string, input BatchInput, results []model.JobResult) {
	for i, item := range input.Items {
		if err := workflow.Await(ctx, func() bool { return !b.paused || b.cancelled }); err != nil {
			b.cancelled = true
		}
		if b.cancelled {
			b.skipRemaining(results, i)
			return
		}

		res := b.executeItem(cctx, batchID, i, item)
		results[i] = res
		b.record(res)
	}
}

// runParallel launches items as they fit under the concurrency bound. Pause
// stops new launches; in-flight items run to completion.
func (b *batchRun) runParallel(ctx, cctx workflow.Context, batchID string, input BatchInput, results []model.JobResult) {
	bound := input.MaxParallel
	if bound <= 0 {
		bound = defaultMaxParallel
	}

	inflight := 0
	launched := 0
	collected := 0
	for i, item := range input.Items {
		if err := workflow.Await(ctx, func() bool {
			return (inflight < bound && !b.paused) || b.cancelled
		}); err != nil {
			b.cancelled = true
		}
		if b.cancelled {
			b.skipRemaining(results, i)
			break
		}

		i, item := i, item
		inflight++
		launched++
		future := workflow.ExecuteChildWorkflow(b.itemContext(cctx, batchID, i), MediaGenerationWorkflow, item)
		workflow.Go(ctx, func(gctx workflow.Context) {
			var res model.JobResult
			if err := future.Get(gctx, &res); err != nil {
				res = b.itemFailure(itemWorkflowID(batchID, i), err)
			}
			results[i] = res
			b.record(res)
			inflight--
			collected++
		})
	}

	// Collection runs on the parent context so a cancelled batch still
	// gathers the terminal results of its children.
	_ = workflow.Await(ctx, func() bool { return collected >= launched })
}

func (b *batchRun) executeItem(cctx workflow.Context, batchID string, index int, item model.JobInput) model.JobResult {
	var res model.JobResult
	err := workflow.ExecuteChildWorkflow(b.itemContext(cctx, batchID, index), MediaGenerationWorkflow, item).Get(cctx, &res)
	if err != nil {
		return b.itemFailure(itemWorkflowID(batchID, index), err)
	}
	return res
}

func (b *batchRun) itemContext(cctx workflow.Context, batchID string, index int) workflow.Context {
	return workflow.WithChildOptions(cctx, workflow.ChildWorkflowOptions{
		WorkflowID: itemWorkflowID(batchID, index),
	})
}

// itemFailure synthesizes a terminal result for an item whose child workflow
// errored instead of reporting an outcome.
func (b *batchRun) itemFailure(requestID string, err error) model.JobResult {
	status := model.StatusFailed
	code := CodeGenerationFailed
	if b.cancelled || temporal.IsCanceledError(err) {
		status = model.StatusCancelled
		code = CodeCancelled
	}
	return model.JobResult{
		RequestID:    requestID,
		Success:      false,
		Status:       status,
		ErrorMessage: err.Error(),
		ErrorCode:    code,
	}
}

// skipRemaining marks every unlaunched item as cancelled.
func (b *batchRun) skipRemaining(results []model.JobResult, from int) {
	for i := from; i < len(results); i++ {
		if results[i].Status != "" {
			continue
		}
		results[i] = model.JobResult{
			Success:      false,
			Status:       model.StatusCancelled,
			ErrorMessage: "batch cancelled before the item started",
			ErrorCode:    CodeCancelled,
		}
		b.record(results[i])
	}
}

func (b *batchRun) record(res model.JobResult) {
	b.completed++
	if res.Success {
		b.succeeded++
	} else {
		b.failed++
	}
}

func itemWorkflowID(batchID string, index int) string {
	return fmt.Sprintf("%s-item-%d", batchID, index)
}
