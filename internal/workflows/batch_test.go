package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/mvidalg/genflow-api/internal/activities"
	"github.com/mvidalg/genflow-api/internal/model"
	"github.com/mvidalg/genflow-api/internal/policy"
)

func newBatchEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *activities.Activities) {
	t.Helper()
	env, a := newEnv(t)
	env.RegisterWorkflow(BatchGenerationWorkflow)

	// Every child validates its own input; echo it back.
	env.OnActivity(a.ValidateRequest, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in model.JobInput) (model.JobInput, error) {
			return in, nil
		})
	return env, a
}

func TestBatchWorkflow_Sequential(t *testing.T) {
	env, a := newBatchEnv(t)

	env.OnActivity(a.GenerateImage, mock.Anything, mock.Anything).
		Return(activities.GenerationResult{TaskID: "task-1", AssetURL: "https://svc.example.com/a.png"}, nil)
	env.OnActivity(a.DownloadResult, mock.Anything, mock.Anything, mock.Anything).
		Return(activities.DownloadResultOutput{StoredURL: "https://bucket.s3.amazonaws.com/assets/a"}, nil)
	env.OnActivity(a.CleanupResources, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{
		Items: []model.JobInput{mustImageInput(t), mustImageInput(t)},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 2, result.Total)
	require.Equal(t, 2, result.Succeeded)
	require.Zero(t, result.Failed)
	require.False(t, result.Cancelled)
	require.Len(t, result.Results, 2)
	for i, res := range result.Results {
		require.True(t, res.Success, "item %d", i)
		require.Equal(t, model.StatusCompleted, res.Status)
	}
}

func TestBatchWorkflow_Parallel(t *testing.T) {
	env, a := newBatchEnv(t)

	env.OnActivity(a.GenerateImage, mock.Anything, mock.Anything).
		Return(activities.GenerationResult{TaskID: "task-1", AssetURL: "https://svc.example.com/a.png"}, nil)
	env.OnActivity(a.DownloadResult, mock.Anything, mock.Anything, mock.Anything).
		Return(activities.DownloadResultOutput{StoredURL: "https://bucket.s3.amazonaws.com/assets/a"}, nil)
	env.OnActivity(a.CleanupResources, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{
		Items:       []model.JobInput{mustImageInput(t), mustImageInput(t), mustImageInput(t)},
		Parallel:    true,
		MaxParallel: 2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 3, result.Total)
	require.Equal(t, 3, result.Succeeded)
	// Results stay in submission order, each item under its own child ID.
	for i, res := range result.Results {
		require.True(t, strings.HasSuffix(res.RequestID, itemWorkflowID("", i)), "item %d got %q", i, res.RequestID)
	}
}

func TestBatchWorkflow_ItemFailureDoesNotFailBatch(t *testing.T) {
	env, a := newBatchEnv(t)

	bad, err := model.NewJobInput("a cursed artifact", model.JobTypeImage)
	require.NoError(t, err)

	env.OnActivity(a.GenerateImage, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in model.JobInput) (activities.GenerationResult, error) {
			if in.Prompt == "a cursed artifact" {
				return activities.GenerationResult{}, temporal.NewNonRetryableApplicationError(
					"content rejected", policy.KindValidation, nil)
			}
			return activities.GenerationResult{TaskID: "task-1", AssetURL: "https://svc.example.com/a.png"}, nil
		})
	env.OnActivity(a.DownloadResult, mock.Anything, mock.Anything, mock.Anything).
		Return(activities.DownloadResultOutput{StoredURL: "https://bucket.s3.amazonaws.com/assets/a"}, nil)
	env.OnActivity(a.CleanupResources, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{
		Items: []model.JobInput{bad, mustImageInput(t)},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, result.Failed)
	require.False(t, result.Results[0].Success)
	require.True(t, result.Results[1].Success)
}

func TestBatchWorkflow_CancelSkipsRemaining(t *testing.T) {
	env, a := newBatchEnv(t)

	// Signal-strategy items wait on callbacks that never arrive, so the
	// first item is still in flight when the cancel lands.
	items := []model.JobInput{
		mustVideoInput(t, model.WithStrategy(model.StrategySignal)),
		mustVideoInput(t, model.WithStrategy(model.StrategySignal)),
		mustVideoInput(t, model.WithStrategy(model.StrategySignal)),
	}

	env.OnActivity(a.GenerateImage, mock.Anything, mock.Anything).
		Return(activities.GenerationResult{TaskID: "seed-1", AssetURL: "https://svc.example.com/seed.png"}, nil)
	env.OnActivity(a.SubmitVideo, mock.Anything, mock.Anything, mock.Anything).Return("task-v-1", nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancelBatch, "operator abort")
	}, 30*time.Second)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{Items: items})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Cancelled)
	require.Zero(t, result.Succeeded)
	require.Equal(t, 3, result.Failed)
	require.Equal(t, model.StatusCancelled, result.Results[0].Status)
	require.Contains(t, result.Results[1].ErrorMessage, "before the item started")
	require.Contains(t, result.Results[2].ErrorMessage, "before the item started")
}

func TestBatchWorkflow_PauseAndResume(t *testing.T) {
	env, a := newBatchEnv(t)

	// Poll-strategy items burn virtual time between items, giving the pause
	// a window to land while the first item is still running.
	items := []model.JobInput{
		mustVideoInput(t, model.WithStrategy(model.StrategyPoll)),
		mustVideoInput(t, model.WithStrategy(model.StrategyPoll)),
	}

	env.OnActivity(a.GenerateImage, mock.Anything, mock.Anything).
		Return(activities.GenerationResult{TaskID: "seed-1", AssetURL: "https://svc.example.com/seed.png"}, nil)
	env.OnActivity(a.SubmitVideo, mock.Anything, mock.Anything, mock.Anything).Return("task-v-1", nil)
	env.OnActivity(a.CheckVideoStatus, mock.Anything, "task-v-1").
		Return(activities.VideoStatusResult{TaskID: "task-v-1", Done: true, Success: true, AssetURL: "https://svc.example.com/v.mp4"}, nil)
	env.OnActivity(a.DownloadResult, mock.Anything, mock.Anything, mock.Anything).
		Return(activities.DownloadResultOutput{StoredURL: "https://bucket.s3.amazonaws.com/assets/v"}, nil)
	env.OnActivity(a.CleanupResources, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPauseBatch, nil)
	}, 10*time.Second)

	var sawPause BatchProgress
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(QueryGetBatchProgress)
		require.NoError(t, err)
		require.NoError(t, val.Get(&sawPause))
	}, 100*time.Second)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResumeBatch, nil)
	}, 120*time.Second)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{Items: items})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.True(t, sawPause.Paused)
	require.Equal(t, 1, sawPause.Completed)

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 2, result.Succeeded)
	require.False(t, result.Cancelled)
}

func TestBatchWorkflow_EmptyBatchRejected(t *testing.T) {
	env, _ := newBatchEnv(t)

	env.ExecuteWorkflow(BatchGenerationWorkflow, BatchInput{})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, policy.KindValidation, appErr.Type())
}
