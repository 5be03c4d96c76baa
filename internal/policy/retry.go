// Package policy defines retry policies for activities and the error-kind
// taxonomy used to classify failures as retryable or terminal.
package policy

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
)

// Error kinds attached to application errors raised by activities. The
// runtime's retry policy acts on the kind alone, so activities must tag
// every infrastructure failure.
const (
	// KindValidation marks bad input. Never retried.
	KindValidation = "ValidationError"
	// KindNetwork marks connectivity failures. Retryable.
	KindNetwork = "NetworkError"
	// KindTimeout marks deadline failures. Retryable.
	KindTimeout = "TimeoutError"
	// KindRateLimit marks throttling by the external service. Retryable.
	KindRateLimit = "RateLimitError"
	// KindAPI marks unexpected external-service failures. Retryable.
	KindAPI = "APIError"
	// KindGateTimeout marks concurrency-gate saturation. Retryable at a
	// higher level since it signals transient contention.
	KindGateTimeout = "SemaphoreTimeout"
)

// CodeTimeout is the error code carried by terminal results when a poll
// budget or signal-wait window is exhausted.
const CodeTimeout = "TIMEOUT"

// Retry policy tiers. API-calling operations get a more generous policy,
// file and download operations a gentler backoff, notifications a slower
// start, and bookkeeping operations minimal retries.
var (
	standardPolicy = &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        60 * time.Second,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{KindValidation},
	}

	apiPolicy = &temporal.RetryPolicy{
		InitialInterval:        2 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        2 * time.Minute,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{KindValidation},
	}

	filePolicy = &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     1.5,
		MaximumInterval:        45 * time.Second,
		MaximumAttempts:        4,
		NonRetryableErrorTypes: []string{KindValidation},
	}

	notificationPolicy = &temporal.RetryPolicy{
		InitialInterval:        3 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        time.Minute,
		MaximumAttempts:        4,
		NonRetryableErrorTypes: []string{KindValidation},
	}

	criticalPolicy = &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Second,
		MaximumAttempts:        2,
		NonRetryableErrorTypes: []string{KindValidation},
	}
)

// operationPolicies maps activity names to their retry tier. Unlisted
// operations fall back to the standard policy.
var operationPolicies = map[string]*temporal.RetryPolicy{
	// Image generation
	"GenerateImage": apiPolicy,

	// Video generation
	"SubmitVideo":      apiPolicy,
	"CheckVideoStatus": apiPolicy,
	"DownloadResult":   filePolicy,

	// Notification
	"SendNotification": notificationPolicy,

	// Bookkeeping
	"ValidateRequest":  standardPolicy,
	"RecordAuditEvent": criticalPolicy,
	"CleanupResources": filePolicy,
}

// ForOperation returns the retry policy for an activity name, defaulting to
// the standard policy when the operation is unlisted.
func ForOperation(name string) *temporal.RetryPolicy {
	if p, ok := operationPolicies[name]; ok {
		return p
	}
	return standardPolicy
}

// Custom creates a one-off retry policy for callers that need parameters
// outside the standard tiers.
func Custom(initial time.Duration, coefficient float64, attempts int32, maxInterval time.Duration) *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        initial,
		BackoffCoefficient:     coefficient,
		MaximumInterval:        maxInterval,
		MaximumAttempts:        attempts,
		NonRetryableErrorTypes: []string{KindValidation},
	}
}

// retryableKinds are the explicit tags that always mean "retry".
var retryableKinds = map[string]bool{
	KindNetwork:     true,
	KindTimeout:     true,
	KindRateLimit:   true,
	KindAPI:         true,
	KindGateTimeout: true,
}

// retryablePatterns are message fragments that suggest a transient failure
// when no explicit kind is attached.
var retryablePatterns = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"too many requests",
}

// IsRetryable classifies an error. Explicit kind tags override message
// sniffing; unclassified errors are inspected for transient-failure
// phrases and default to non-retryable when ambiguous, so unknown errors
// surface instead of being silently retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		kind := appErr.Type()
		if kind == KindValidation {
			return false
		}
		if retryableKinds[kind] {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// NewValidationError builds a non-retryable validation error.
func NewValidationError(msg string, cause error) error {
	return temporal.NewNonRetryableApplicationError(msg, KindValidation, cause)
}

// NewKindError builds a retryable application error tagged with the given
// kind.
func NewKindError(kind, msg string, cause error) error {
	return temporal.NewApplicationErrorWithCause(msg, kind, cause)
}
