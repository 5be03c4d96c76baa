// Package server provides the HTTP gateway for the media generation
// pipeline. It starts workflows, relays completion callbacks and cancel
// requests as signals, and exposes progress, visibility, and audit reads.
// DTOs are separated from domain types.
package server

import (
	"time"

	"github.com/mvidalg/genflow-api/internal/audit"
)

// CreateJobRequest is the HTTP request body for starting a generation job.
type CreateJobRequest struct {
	// Prompt is the text prompt driving generation.
	Prompt string `json:"prompt" validate:"required,min=1,max=500"`
	// JobType selects image or video generation.
	JobType string `json:"job_type" validate:"required,oneof=image video"`
	// Width is the output width in pixels.
	Width int `json:"width,omitempty" validate:"omitempty,min=64,max=4096"`
	// Height is the output height in pixels.
	Height int `json:"height,omitempty" validate:"omitempty,min=64,max=4096"`
	// Duration is the video length in seconds (video jobs only).
	Duration int `json:"duration,omitempty" validate:"omitempty,min=1,max=60"`
	// Style selects the generation style.
	Style string `json:"style,omitempty"`
	// UserID identifies the requesting user.
	UserID string `json:"user_id,omitempty"`
	// CallbackURL receives the terminal-state notification.
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
	// Strategy overrides completion detection: poll, signal, or hybrid.
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=poll signal hybrid"`
	// Metadata carries free-form request metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateJobResponse is the HTTP response after starting a job.
type CreateJobResponse struct {
	// WorkflowID is the durable identifier for the started workflow.
	WorkflowID string `json:"workflow_id"`
	// RunID is the identifier of the first run.
	RunID string `json:"run_id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// CreateBatchRequest is the HTTP request body for starting a batch of jobs.
type CreateBatchRequest struct {
	// Jobs are the individual generation requests, processed in order.
	Jobs []CreateJobRequest `json:"jobs" validate:"required,min=1,max=50,dive"`
	// Parallel runs items concurrently instead of one at a time.
	Parallel bool `json:"parallel,omitempty"`
	// MaxParallel bounds concurrency for parallel batches.
	MaxParallel int `json:"max_parallel,omitempty" validate:"omitempty,min=1,max=10"`
}

// CreateBatchResponse is the HTTP response after starting a batch.
type CreateBatchResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
}

// CallbackRequest is the completion callback delivered by the external
// generation service.
type CallbackRequest struct {
	// JobID is the external service's task identifier.
	JobID string `json:"job_id" validate:"required"`
	// Success reports whether generation succeeded.
	Success bool `json:"success"`
	// AssetURL is the generated asset location when Success is true.
	AssetURL string `json:"asset_url,omitempty"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
	// Metadata carries arbitrary callback metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CancelRequest is the optional body of a cancel call.
type CancelRequest struct {
	// Reason explains why the job is being cancelled.
	Reason string `json:"reason,omitempty"`
}

// ProgressPushRequest lets trusted callers push a progress update into a
// running workflow.
type ProgressPushRequest struct {
	Step    string `json:"step" validate:"required"`
	Status  string `json:"status" validate:"required"`
	Percent int    `json:"percent" validate:"min=0,max=100"`
	Message string `json:"message,omitempty"`
}

// AcceptedResponse acknowledges a signal delivery.
type AcceptedResponse struct {
	WorkflowID string `json:"workflow_id"`
	Accepted   bool   `json:"accepted"`
}

// WorkflowSummary is one row of a visibility listing.
type WorkflowSummary struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// ListWorkflowsResponse is the paginated visibility listing.
type ListWorkflowsResponse struct {
	Workflows     []WorkflowSummary `json:"workflows"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

// CountResponse reports how many executions match a predicate.
type CountResponse struct {
	Count int64 `json:"count"`
}

// AuditResponse is a page of audit history for one workflow.
type AuditResponse struct {
	WorkflowID string        `json:"workflow_id"`
	Entries    []audit.Entry `json:"entries"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
