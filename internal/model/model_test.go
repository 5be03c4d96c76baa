package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewJobInput_Defaults(t *testing.T) {
	in, err := NewJobInput("sunset over the ocean", JobTypeImage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Width != 1024 || in.Height != 1024 {
		t.Errorf("expected 1024x1024 defaults, got %dx%d", in.Width, in.Height)
	}
	if in.Style != "realistic" {
		t.Errorf("expected default style realistic, got %s", in.Style)
	}
}

func TestNewJobInput_DurationInvariant(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		opts    []JobInputOption
		wantErr error
	}{
		{
			name:    "video requires duration",
			jobType: JobTypeVideo,
			wantErr: ErrDurationRequired,
		},
		{
			name:    "video with duration is valid",
			jobType: JobTypeVideo,
			opts:    []JobInputOption{WithDuration(5)},
		},
		{
			name:    "image with duration is invalid",
			jobType: JobTypeImage,
			opts:    []JobInputOption{WithDuration(5)},
			wantErr: ErrDurationForbidden,
		},
		{
			name:    "image without duration is valid",
			jobType: JobTypeImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJobInput("a prompt", tt.jobType, tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewJobInput_FieldRanges(t *testing.T) {
	if _, err := NewJobInput("", JobTypeImage); err == nil {
		t.Error("expected error for empty prompt")
	}
	if _, err := NewJobInput(strings.Repeat("x", 501), JobTypeImage); err == nil {
		t.Error("expected error for prompt over 500 chars")
	}
	if _, err := NewJobInput("p", JobTypeImage, WithDimensions(32, 512)); err == nil {
		t.Error("expected error for width below 64")
	}
	if _, err := NewJobInput("p", JobTypeImage, WithDimensions(512, 8192)); err == nil {
		t.Error("expected error for height above 4096")
	}
	if _, err := NewJobInput("p", JobTypeVideo, WithDuration(61)); err == nil {
		t.Error("expected error for duration above 60")
	}
}

func TestJobInput_EffectiveStrategy(t *testing.T) {
	image, _ := NewJobInput("p", JobTypeImage)
	if got := image.EffectiveStrategy(); got != StrategyPoll {
		t.Errorf("image default strategy = %s, want %s", got, StrategyPoll)
	}

	video, _ := NewJobInput("p", JobTypeVideo, WithDuration(5), WithCallbackURL("http://localhost:8081/callback/x"))
	if got := video.EffectiveStrategy(); got != StrategyHybrid {
		t.Errorf("video+callback default strategy = %s, want %s", got, StrategyHybrid)
	}

	polled, _ := NewJobInput("p", JobTypeVideo, WithDuration(5), WithStrategy(StrategyPoll))
	if got := polled.EffectiveStrategy(); got != StrategyPoll {
		t.Errorf("explicit strategy = %s, want %s", got, StrategyPoll)
	}
}

func TestNewProgress_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		percent int
		opts    []ProgressOption
		wantErr error
	}{
		{
			name:    "completed must be 100",
			status:  StatusCompleted,
			percent: 90,
			wantErr: ErrCompletedPercent,
		},
		{
			name:    "completed at 100 valid",
			status:  StatusCompleted,
			percent: 100,
		},
		{
			name:    "pending must be 0",
			status:  StatusPending,
			percent: 5,
			wantErr: ErrPendingPercent,
		},
		{
			name:    "failed requires error message",
			status:  StatusFailed,
			percent: 40,
			wantErr: ErrFailedWithoutMessage,
		},
		{
			name:    "failed with message valid",
			status:  StatusFailed,
			percent: 40,
			opts:    []ProgressOption{WithError("generation exploded")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProgress(StepProcessing, tt.status, tt.percent, tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewProgress_PercentRange(t *testing.T) {
	if _, err := NewProgress(StepProcessing, StatusInProgress, -1); err == nil {
		t.Error("expected error for percent below 0")
	}
	if _, err := NewProgress(StepProcessing, StatusInProgress, 101); err == nil {
		t.Error("expected error for percent above 100")
	}
}

func TestWorkflowState_AddProgressUpdate(t *testing.T) {
	input, _ := NewJobInput("p", JobTypeImage)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	state, err := NewWorkflowState("wf-1", input, start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CurrentProgress.Status != StatusPending {
		t.Errorf("initial status = %s, want pending", state.CurrentProgress.Status)
	}

	running, _ := NewProgress(StepProcessing, StatusInProgress, 40, WithUpdatedAt(start.Add(10*time.Second)))
	state.AddProgressUpdate(running)

	if len(state.ProgressHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(state.ProgressHistory))
	}
	if state.ProgressHistory[0].Step != StepInitialization {
		t.Errorf("history[0].step = %s, want initialization", state.ProgressHistory[0].Step)
	}
	if !state.CompletedAt.IsZero() {
		t.Error("completed_at should not be set for non-terminal status")
	}

	done, _ := NewProgress(StepCompletion, StatusCompleted, 100, WithUpdatedAt(start.Add(30*time.Second)))
	state.AddProgressUpdate(done)

	if state.CompletedAt.IsZero() {
		t.Fatal("completed_at should be set on terminal status")
	}
	if got := state.Duration(); got != 30 {
		t.Errorf("duration = %v, want 30", got)
	}
}

func TestWorkflowState_CompletedAtSetOnce(t *testing.T) {
	input, _ := NewJobInput("p", JobTypeImage)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state, _ := NewWorkflowState("wf-1", input, start)

	failed, _ := NewProgress(StepErrorHandling, StatusFailed, 40,
		WithError("boom"), WithUpdatedAt(start.Add(5*time.Second)))
	state.AddProgressUpdate(failed)
	first := state.CompletedAt

	// A second terminal update must not move the completion time.
	cancelled, _ := NewProgress(StepErrorHandling, StatusCancelled, 40,
		WithUpdatedAt(start.Add(20*time.Second)))
	state.AddProgressUpdate(cancelled)

	if !state.CompletedAt.Equal(first) {
		t.Errorf("completed_at moved from %v to %v", first, state.CompletedAt)
	}
}

func TestWorkflowState_IncrementRetry(t *testing.T) {
	input, _ := NewJobInput("p", JobTypeImage)
	state, _ := NewWorkflowState("wf-1", input, time.Now())

	state.IncrementRetry("first error")
	state.IncrementRetry("second error")

	if state.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", state.RetryCount)
	}
	// Single last-error slot: earlier errors are overwritten.
	if state.LastError != "second error" {
		t.Errorf("last error = %q, want %q", state.LastError, "second error")
	}
}

func TestWorkflowState_AddAssetSize(t *testing.T) {
	input, _ := NewJobInput("p", JobTypeImage)
	state, _ := NewWorkflowState("wf-1", input, time.Now())

	state.AddAssetSize(1.5)
	state.AddAssetSize(0.25)
	state.AddAssetSize(-3)

	if state.TotalSizeMB != 1.75 {
		t.Errorf("total size = %f, want 1.75", state.TotalSizeMB)
	}
}

func TestNewRequestID(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Error("expected unique IDs")
	}
	if !strings.HasPrefix(a, "gen-") {
		t.Errorf("unexpected ID format: %s", a)
	}
}
