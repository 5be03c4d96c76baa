package policy

import (
	"errors"
	"testing"
	"time"
)

func TestForOperation(t *testing.T) {
	tests := []struct {
		name          string
		operation     string
		wantInitial   time.Duration
		wantAttempts  int32
		wantMaxPeriod time.Duration
	}{
		{"image generation uses api tier", "GenerateImage", 2 * time.Second, 5, 2 * time.Minute},
		{"video submit uses api tier", "SubmitVideo", 2 * time.Second, 5, 2 * time.Minute},
		{"download uses file tier", "DownloadResult", time.Second, 4, 45 * time.Second},
		{"notification uses notification tier", "SendNotification", 3 * time.Second, 4, time.Minute},
		{"audit uses critical tier", "RecordAuditEvent", time.Second, 2, 30 * time.Second},
		{"validation uses standard tier", "ValidateRequest", time.Second, 3, 60 * time.Second},
		{"unknown falls back to standard", "SomethingElse", time.Second, 3, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ForOperation(tt.operation)
			if p.InitialInterval != tt.wantInitial {
				t.Errorf("InitialInterval = %v, want %v", p.InitialInterval, tt.wantInitial)
			}
			if p.MaximumAttempts != tt.wantAttempts {
				t.Errorf("MaximumAttempts = %d, want %d", p.MaximumAttempts, tt.wantAttempts)
			}
			if p.MaximumInterval != tt.wantMaxPeriod {
				t.Errorf("MaximumInterval = %v, want %v", p.MaximumInterval, tt.wantMaxPeriod)
			}
		})
	}
}

func TestForOperationExcludesValidation(t *testing.T) {
	for _, op := range []string{"GenerateImage", "DownloadResult", "SendNotification", "ValidateRequest"} {
		p := ForOperation(op)
		found := false
		for _, tp := range p.NonRetryableErrorTypes {
			if tp == KindValidation {
				found = true
			}
		}
		if !found {
			t.Errorf("policy for %s does not exclude %s", op, KindValidation)
		}
	}
}

func TestIsRetryableKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation kind never retried", NewValidationError("prompt too long", nil), false},
		{"network kind", NewKindError(KindNetwork, "dial refused", nil), true},
		{"timeout kind", NewKindError(KindTimeout, "deadline exceeded", nil), true},
		{"rate limit kind", NewKindError(KindRateLimit, "throttled", nil), true},
		{"api kind", NewKindError(KindAPI, "boom", nil), true},
		{"gate kind", NewKindError(KindGateTimeout, "gate saturated", nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryableMessageSniffing(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"connection phrase", "connection reset by peer", true},
		{"timeout phrase", "request timeout after 30s", true},
		{"rate limit phrase", "rate limit exceeded", true},
		{"service unavailable phrase", "503 Service Unavailable", true},
		{"bad gateway phrase", "502 Bad Gateway", true},
		{"gateway timeout phrase", "504 Gateway Timeout", true},
		{"too many requests phrase", "429 Too Many Requests", true},
		{"temporary phrase", "temporary DNS failure", true},
		{"unknown defaults to non-retryable", "invalid checksum", false},
		{"empty-ish message", "boom", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(errors.New(tt.msg)); got != tt.want {
				t.Errorf("IsRetryable(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestIsRetryableKindOverridesMessage(t *testing.T) {
	// A validation error mentioning "timeout" must still be terminal.
	err := NewValidationError("validation timeout while parsing prompt", nil)
	if IsRetryable(err) {
		t.Error("validation kind should override retryable message phrases")
	}
}

func TestCustom(t *testing.T) {
	p := Custom(500*time.Millisecond, 1.5, 7, 10*time.Second)
	if p.InitialInterval != 500*time.Millisecond || p.MaximumAttempts != 7 {
		t.Errorf("unexpected custom policy: %+v", p)
	}
}
