// Package model provides the core value types for media generation jobs:
// job inputs, point-in-time progress snapshots, and the cumulative workflow
// state aggregate. Constructors validate invariants and fail fast so that
// invalid states never enter workflow history or the search-attribute
// projection.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobType identifies the kind of asset a job produces.
type JobType string

const (
	// JobTypeImage generates a single image from a text prompt.
	JobTypeImage JobType = "image"
	// JobTypeVideo generates a video, seeded by a generated image.
	JobTypeVideo JobType = "video"
)

// IsValid returns true if the job type is a known value.
func (t JobType) IsValid() bool {
	return t == JobTypeImage || t == JobTypeVideo
}

// Step identifies the workflow step a progress snapshot belongs to.
type Step string

const (
	StepInitialization Step = "initialization"
	StepValidation     Step = "validation"
	StepSubmission     Step = "submission"
	StepProcessing     Step = "processing"
	StepDownload       Step = "download"
	StepNotification   Step = "notification"
	StepCompletion     Step = "completion"
	StepErrorHandling  Step = "error_handling"

	// Domain steps used while a specific asset type is being generated.
	StepImage Step = "image"
	StepVideo Step = "video"
)

// Status is the execution status of a job or step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRetrying   Status = "retrying"
)

// IsTerminal returns true if the status ends a workflow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CompletionStrategy selects how the workflow detects that external
// generation has finished.
type CompletionStrategy string

const (
	// StrategyPoll repeatedly invokes a status-check activity on a fixed
	// interval until the external job resolves or the poll budget runs out.
	StrategyPoll CompletionStrategy = "poll"
	// StrategySignal suspends the workflow until a completion signal arrives
	// or the wait window elapses.
	StrategySignal CompletionStrategy = "signal"
	// StrategyHybrid waits briefly for a signal and falls back to polling,
	// hedging against callback delivery failures.
	StrategyHybrid CompletionStrategy = "hybrid"
)

// Static errors for model validation.
var (
	// ErrDurationRequired is returned when a video job has no duration.
	ErrDurationRequired = errors.New("model: duration is required for video jobs")
	// ErrDurationForbidden is returned when an image job carries a duration.
	ErrDurationForbidden = errors.New("model: duration must not be set for image jobs")
	// ErrCompletedPercent is returned when a completed progress is not at 100%.
	ErrCompletedPercent = errors.New("model: completed status must have 100% progress")
	// ErrPendingPercent is returned when a pending progress is not at 0%.
	ErrPendingPercent = errors.New("model: pending status must have 0% progress")
	// ErrFailedWithoutMessage is returned when a failed progress has no error message.
	ErrFailedWithoutMessage = errors.New("model: failed status must include an error message")
	// ErrCompletedAtAlreadySet is returned when a terminal update arrives twice.
	ErrCompletedAtAlreadySet = errors.New("model: workflow completion time already set")
)

var validate = validator.New()

// JobInput is the immutable description of what to generate. It is created
// once at workflow start and never mutated.
type JobInput struct {
	// Prompt is the text prompt driving generation (1-500 chars).
	Prompt string `json:"prompt" validate:"required,min=1,max=500"`
	// Style selects the generation style.
	Style string `json:"style,omitempty"`
	// JobType selects image or video generation.
	JobType JobType `json:"job_type" validate:"required,oneof=image video"`
	// Width is the output width in pixels (64-4096, default 1024).
	Width int `json:"width,omitempty" validate:"omitempty,min=64,max=4096"`
	// Height is the output height in pixels (64-4096, default 1024).
	Height int `json:"height,omitempty" validate:"omitempty,min=64,max=4096"`
	// Duration is the video length in seconds. Required for video jobs
	// (1-60), forbidden for image jobs.
	Duration int `json:"duration,omitempty" validate:"omitempty,min=1,max=60"`
	// UserID identifies the requesting user, if known.
	UserID string `json:"user_id,omitempty"`
	// CallbackURL is where the external service should deliver completion
	// callbacks. Empty disables the signal path.
	CallbackURL string `json:"callback_url,omitempty"`
	// Strategy selects the completion-detection strategy. Empty defaults to
	// poll for image jobs and hybrid for video jobs with a callback URL.
	Strategy CompletionStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=poll signal hybrid"`
	// Metadata carries free-form request metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewJobInput builds a validated JobInput with defaults applied.
func NewJobInput(prompt string, jobType JobType, opts ...JobInputOption) (JobInput, error) {
	in := JobInput{
		Prompt:  prompt,
		Style:   "realistic",
		JobType: jobType,
		Width:   1024,
		Height:  1024,
	}
	for _, opt := range opts {
		opt(&in)
	}
	if err := in.Validate(); err != nil {
		return JobInput{}, err
	}
	return in, nil
}

// JobInputOption configures a JobInput under construction.
type JobInputOption func(*JobInput)

// WithDimensions sets the output width and height.
func WithDimensions(width, height int) JobInputOption {
	return func(in *JobInput) {
		in.Width = width
		in.Height = height
	}
}

// WithDuration sets the video duration in seconds.
func WithDuration(seconds int) JobInputOption {
	return func(in *JobInput) {
		in.Duration = seconds
	}
}

// WithStyle sets the generation style.
func WithStyle(style string) JobInputOption {
	return func(in *JobInput) {
		in.Style = style
	}
}

// WithUser sets the requesting user ID.
func WithUser(userID string) JobInputOption {
	return func(in *JobInput) {
		in.UserID = userID
	}
}

// WithCallbackURL sets the completion callback URL.
func WithCallbackURL(url string) JobInputOption {
	return func(in *JobInput) {
		in.CallbackURL = url
	}
}

// WithStrategy sets the completion-detection strategy.
func WithStrategy(s CompletionStrategy) JobInputOption {
	return func(in *JobInput) {
		in.Strategy = s
	}
}

// WithMetadata sets the free-form metadata map.
func WithMetadata(md map[string]string) JobInputOption {
	return func(in *JobInput) {
		in.Metadata = md
	}
}

// Validate checks field ranges and the duration/job-type invariant:
// duration must be present exactly when the job type is video.
func (in JobInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("model: invalid job input: %w", err)
	}
	if in.JobType == JobTypeVideo && in.Duration == 0 {
		return ErrDurationRequired
	}
	if in.JobType == JobTypeImage && in.Duration != 0 {
		return ErrDurationForbidden
	}
	return nil
}

// EffectiveStrategy resolves the completion strategy, applying defaults when
// the input leaves it empty.
func (in JobInput) EffectiveStrategy() CompletionStrategy {
	if in.Strategy != "" {
		return in.Strategy
	}
	if in.JobType == JobTypeVideo && in.CallbackURL != "" {
		return StrategyHybrid
	}
	return StrategyPoll
}

// Progress is a point-in-time snapshot of workflow execution. Instances are
// immutable once constructed; the workflow replaces the current snapshot on
// every step transition.
type Progress struct {
	// Step is the workflow step this snapshot belongs to.
	Step Step `json:"step"`
	// Status is the execution status at this point.
	Status Status `json:"status"`
	// Percent is the completion percentage (0-100).
	Percent int `json:"percent"`
	// Message is an optional human-readable progress description.
	Message string `json:"message,omitempty"`
	// AssetURL is the URL of a generated asset, when available.
	AssetURL string `json:"asset_url,omitempty"`
	// ErrorMessage describes the failure when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// UpdatedAt is when this snapshot was taken.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProgress builds a validated Progress snapshot. Construction fails if
// the status/percent/error invariants do not hold, which keeps invalid
// states out of history and the search-attribute projection.
func NewProgress(step Step, status Status, percent int, opts ...ProgressOption) (Progress, error) {
	p := Progress{
		Step:    step,
		Status:  status,
		Percent: percent,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.validate(); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// ProgressOption configures a Progress under construction.
type ProgressOption func(*Progress)

// WithMessage sets the progress message.
func WithMessage(msg string) ProgressOption {
	return func(p *Progress) {
		p.Message = msg
	}
}

// WithAssetURL sets the generated asset URL.
func WithAssetURL(url string) ProgressOption {
	return func(p *Progress) {
		p.AssetURL = url
	}
}

// WithError sets the error message.
func WithError(msg string) ProgressOption {
	return func(p *Progress) {
		p.ErrorMessage = msg
	}
}

// WithUpdatedAt sets the snapshot timestamp. Workflow code must use this
// with workflow time; the zero value is left untouched for callers that
// stamp the snapshot later.
func WithUpdatedAt(t time.Time) ProgressOption {
	return func(p *Progress) {
		p.UpdatedAt = t
	}
}

func (p Progress) validate() error {
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("model: percent %d out of range [0,100]", p.Percent)
	}
	if p.Status == StatusCompleted && p.Percent != 100 {
		return ErrCompletedPercent
	}
	if p.Status == StatusPending && p.Percent != 0 {
		return ErrPendingPercent
	}
	if p.Status == StatusFailed && p.ErrorMessage == "" {
		return ErrFailedWithoutMessage
	}
	return nil
}

// WorkflowState is the cumulative aggregate for one workflow instance. It is
// owned exclusively by that instance for its lifetime and never shared.
type WorkflowState struct {
	// WorkflowID is the durable workflow identifier.
	WorkflowID string `json:"workflow_id"`
	// JobInput is the original, immutable job input.
	JobInput JobInput `json:"job_input"`
	// CurrentProgress is the latest progress snapshot.
	CurrentProgress Progress `json:"current_progress"`
	// ProgressHistory holds previous snapshots, oldest first. Append-only.
	ProgressHistory []Progress `json:"progress_history,omitempty"`
	// StartedAt is when the workflow began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is set exactly once, when the status first turns terminal.
	CompletedAt time.Time `json:"completed_at,omitzero"`
	// RetryCount is the number of recorded retry attempts.
	RetryCount int `json:"retry_count"`
	// ErrorCount is the number of errors recorded over the workflow's life,
	// including ones that were later retried past.
	ErrorCount int `json:"error_count"`
	// LastError holds the most recent error message. Earlier errors are
	// overwritten; the full trail lives in the audit log.
	LastError string `json:"last_error,omitempty"`
	// ResultURLs lists the URLs of generated assets.
	ResultURLs []string `json:"result_urls,omitempty"`
	// TotalSizeMB accumulates the size of downloaded assets in megabytes.
	TotalSizeMB float64 `json:"total_size_mb,omitempty"`
}

// NewWorkflowState builds the initial aggregate for a workflow instance.
// The initial progress is pending at 0%.
func NewWorkflowState(workflowID string, input JobInput, startedAt time.Time) (WorkflowState, error) {
	initial, err := NewProgress(StepInitialization, StatusPending, 0,
		WithMessage("workflow initialized"),
		WithUpdatedAt(startedAt),
	)
	if err != nil {
		return WorkflowState{}, err
	}
	return WorkflowState{
		WorkflowID:      workflowID,
		JobInput:        input,
		CurrentProgress: initial,
		StartedAt:       startedAt,
	}, nil
}

// AddProgressUpdate appends the current progress to history, replaces it
// with the new snapshot, and stamps CompletedAt on the first terminal status.
func (s *WorkflowState) AddProgressUpdate(p Progress) {
	s.ProgressHistory = append(s.ProgressHistory, s.CurrentProgress)
	s.CurrentProgress = p
	if p.Status.IsTerminal() && s.CompletedAt.IsZero() {
		s.CompletedAt = p.UpdatedAt
	}
}

// IncrementRetry bumps the retry counter and overwrites the last error.
// A single last-error slot keeps the aggregate small for replay; the audit
// log retains every recorded error.
func (s *WorkflowState) IncrementRetry(errMsg string) {
	s.RetryCount++
	s.RecordError(errMsg)
}

// RecordError bumps the error counter and overwrites the last error.
func (s *WorkflowState) RecordError(errMsg string) {
	s.ErrorCount++
	s.LastError = errMsg
}

// AddResultURL appends a generated asset URL.
func (s *WorkflowState) AddResultURL(url string) {
	if url != "" {
		s.ResultURLs = append(s.ResultURLs, url)
	}
}

// AddAssetSize accumulates the size of a downloaded asset. Negative sizes
// are ignored.
func (s *WorkflowState) AddAssetSize(mb float64) {
	if mb > 0 {
		s.TotalSizeMB += mb
	}
}

// IsTerminal returns true if the current status ends the workflow.
func (s *WorkflowState) IsTerminal() bool {
	return s.CurrentProgress.Status.IsTerminal()
}

// Duration returns the elapsed workflow time in seconds, or 0 if the
// workflow has not completed.
func (s *WorkflowState) Duration() float64 {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt).Seconds()
}

// JobResult is the final outcome returned by a workflow run.
type JobResult struct {
	// RequestID is the workflow/request identifier.
	RequestID string `json:"request_id"`
	// Success reports whether generation completed. Partial failures
	// (download or notification) do not clear it; see Metadata.
	Success bool `json:"success"`
	// Status is the terminal status of the workflow.
	Status Status `json:"status"`
	// AssetURLs lists the URLs of generated assets.
	AssetURLs []string `json:"asset_urls,omitempty"`
	// ErrorMessage is a human-readable failure description.
	ErrorMessage string `json:"error_message,omitempty"`
	// ErrorCode distinguishes failure classes, e.g. TIMEOUT or
	// GENERATION_FAILED.
	ErrorCode string `json:"error_code,omitempty"`
	// DurationSeconds is the total workflow execution time.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// RetryCount is the number of retries performed.
	RetryCount int `json:"retry_count,omitempty"`
	// Metadata carries partial-failure details and bookkeeping, such as
	// download_error when generation succeeded but retrieval did not.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompletionSignal is the payload delivered by an external callback when a
// generation job finishes. It is produced by the callback receiver and
// consumed exactly once by the waiting workflow instance.
type CompletionSignal struct {
	// JobID is the external service's job identifier.
	JobID string `json:"job_id"`
	// Success reports whether generation succeeded.
	Success bool `json:"success"`
	// AssetURL is the generated asset location when Success is true.
	AssetURL string `json:"asset_url,omitempty"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
	// Cancelled marks a synthetic signal produced by a cancel request.
	Cancelled bool `json:"cancelled,omitempty"`
	// Metadata carries arbitrary callback metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProgressUpdateSignal lets trusted external sources push a progress update
// into a running workflow. Values are validated before acceptance.
type ProgressUpdateSignal struct {
	Step    Step   `json:"step"`
	Status  Status `json:"status"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// StatusSnapshot is the read model returned by the get_status query.
type StatusSnapshot struct {
	WorkflowID    string    `json:"workflow_id"`
	Step          Step      `json:"step"`
	Status        Status    `json:"status"`
	Percent       int       `json:"percent"`
	Message       string    `json:"message,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	AssetURL      string    `json:"asset_url,omitempty"`
	ExternalJobID string    `json:"external_job_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	RetryCount    int       `json:"retry_count"`
}
