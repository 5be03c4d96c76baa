// Package genapi provides an HTTP client for the external media generation service.
package genapi

// Status represents the status of a generation task on the external service.
type Status string

// Task statuses aligned with the generation service API.
const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ImageRequest contains the parameters for an image generation task.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Style  string `json:"style,omitempty"`
}

// VideoRequest contains the parameters for a video generation task.
type VideoRequest struct {
	Prompt          string `json:"prompt"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	DurationSeconds int    `json:"duration_seconds"`
	Style           string `json:"style,omitempty"`
	SourceImageURL  string `json:"source_image_url,omitempty"`
}

// submitResponse represents the response from the service's submit endpoints.
type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from the service's status endpoints.
type statusResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	AssetURL string `json:"asset_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskState contains the result of checking a task's status.
type TaskState struct {
	Status   Status
	Progress int    // Service-reported progress percentage (0-100)
	AssetURL string // Only set when Status is StatusCompleted
	Error    string // Only set when Status is StatusFailed
}

// Notification is the payload delivered to a caller-supplied callback URL
// when a job reaches a terminal state.
type Notification struct {
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	AssetURLs []string `json:"asset_urls,omitempty"`
	Error     string   `json:"error,omitempty"`
}
