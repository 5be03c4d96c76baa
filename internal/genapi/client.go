package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for generation service client operations.
var (
	// ErrBaseURLRequired is returned when the service base URL is not provided.
	ErrBaseURLRequired = errors.New("genapi: base URL is required")
	// ErrAPIKeyNotSet is returned when the GEN_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("genapi: GEN_API_KEY environment variable is not set")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("genapi: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("genapi: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("genapi: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("genapi: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("genapi: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("genapi: request failed")
)

// Client defines the interface for interacting with the generation service.
type Client interface {
	// SubmitImage sends an image generation task and returns the task ID.
	SubmitImage(ctx context.Context, req ImageRequest) (taskID string, err error)

	// SubmitVideo sends a video generation task and returns the task ID.
	SubmitVideo(ctx context.Context, req VideoRequest) (taskID string, err error)

	// TaskStatus checks the status of a task and returns its state.
	TaskStatus(ctx context.Context, taskID string) (TaskState, error)

	// FetchArtifact downloads a generated asset and returns its bytes.
	FetchArtifact(ctx context.Context, assetURL string) ([]byte, error)

	// Notify posts a terminal-state notification to a callback URL.
	Notify(ctx context.Context, callbackURL string, n Notification) error
}

// HTTPClient is the HTTP implementation of the generation service Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new generation service HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable GEN_API_KEY.
// The base URL must be provided.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	// Apply options first to allow WithAPIKey to set the API key
	for _, opt := range opts {
		opt(c)
	}

	// If API key was not set via option, try environment variable
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEN_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// SubmitImage sends an image generation task and returns the task ID.
func (c *HTTPClient) SubmitImage(ctx context.Context, req ImageRequest) (string, error) {
	return c.submit(ctx, c.baseURL+"/v1/images", req)
}

// SubmitVideo sends a video generation task and returns the task ID.
func (c *HTTPClient) SubmitVideo(ctx context.Context, req VideoRequest) (string, error) {
	return c.submit(ctx, c.baseURL+"/v1/videos", req)
}

func (c *HTTPClient) submit(ctx context.Context, url string, payload any) (string, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("genapi: marshal request: %w", err)
	}

	var resp submitResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.TaskID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoTaskIDReturned
	}

	return resp.TaskID, nil
}

// TaskStatus checks the status of a task and returns its state.
func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (TaskState, error) {
	if taskID == "" {
		return TaskState{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/v1/tasks/%s", c.baseURL, taskID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return TaskState{}, err
	}

	var mapped Status
	switch resp.Status {
	case "QUEUED", "PENDING":
		mapped = StatusQueued
	case "PROCESSING", "RUNNING", "IN_PROGRESS":
		mapped = StatusProcessing
	case "COMPLETED", "SUCCEEDED":
		mapped = StatusCompleted
	case "FAILED":
		mapped = StatusFailed
	case "CANCELLED":
		mapped = StatusCancelled
	default:
		mapped = Status(resp.Status)
	}

	state := TaskState{
		Status:   mapped,
		Progress: resp.Progress,
	}

	switch state.Status {
	case StatusCompleted:
		state.AssetURL = resp.AssetURL
	case StatusFailed:
		state.Error = resp.Error
	}

	return state, nil
}

// FetchArtifact downloads a generated asset and returns its bytes.
func (c *HTTPClient) FetchArtifact(ctx context.Context, assetURL string) ([]byte, error) {
	if assetURL == "" {
		return nil, fmt.Errorf("%w: asset URL is empty", ErrRequestFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("genapi: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genapi: fetch artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w with status %d", ErrRequestFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genapi: read artifact: %w", err)
	}

	return data, nil
}

// Notify posts a terminal-state notification to a callback URL.
func (c *HTTPClient) Notify(ctx context.Context, callbackURL string, n Notification) error {
	bodyBytes, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("genapi: marshal notification: %w", err)
	}

	return c.doRequestWithRetry(ctx, http.MethodPost, callbackURL, bodyBytes, nil)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("genapi: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		// Check if error is retryable
		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("genapi: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("genapi: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("genapi: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("genapi: read response: %w", err)}
	}

	// Handle non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx errors are retryable
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		// 429 (rate limit) is retryable
		if resp.StatusCode == 429 {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		// Other errors are not retryable
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("genapi: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
