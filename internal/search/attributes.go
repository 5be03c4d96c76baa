// Package search projects workflow state into typed search attributes so
// executions can be filtered and aggregated through visibility queries.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/mvidalg/genflow-api/internal/model"
)

// Static errors for attribute validation.
var (
	// ErrPercentOutOfRange is returned when a progress percentage falls
	// outside 0-100.
	ErrPercentOutOfRange = errors.New("search: progress percentage out of range")
	// ErrNegativeCount is returned when a counter attribute is negative.
	ErrNegativeCount = errors.New("search: counter attribute is negative")
)

// Typed search attribute keys. These must be registered in the cluster's
// visibility store under the same names and types.
var (
	KeyWorkflowStatus     = temporal.NewSearchAttributeKeyString("WorkflowStatus")
	KeyProgressPercentage = temporal.NewSearchAttributeKeyInt64("ProgressPercentage")
	KeyCurrentStep        = temporal.NewSearchAttributeKeyString("CurrentStep")
	KeyErrorCount         = temporal.NewSearchAttributeKeyInt64("ErrorCount")
	KeyLastUpdateTime     = temporal.NewSearchAttributeKeyTime("LastUpdateTime")
	KeyJobType            = temporal.NewSearchAttributeKeyKeyword("JobType")
	KeyUserID             = temporal.NewSearchAttributeKeyKeyword("UserId")
	KeyRequestID          = temporal.NewSearchAttributeKeyKeyword("RequestId")
	KeyRetryCount         = temporal.NewSearchAttributeKeyInt64("RetryCount")
	KeyDurationSeconds    = temporal.NewSearchAttributeKeyInt64("DurationSeconds")
	KeyPromptHash         = temporal.NewSearchAttributeKeyKeyword("PromptHash")
	KeyAssetCount         = temporal.NewSearchAttributeKeyInt64("AssetCount")
	KeyFileSizeMB         = temporal.NewSearchAttributeKeyFloat64("FileSizeMB")
	KeyCustomProgress     = temporal.NewSearchAttributeKeyString("CustomProgress")
	KeyCustomTag          = temporal.NewSearchAttributeKeyKeyword("CustomTag")
)

// PromptHash returns a short stable digest of a prompt, suitable for
// grouping executions by prompt without exposing its text.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// FormatCustomProgress renders the compound progress attribute as
// "step:status:percent".
func FormatCustomProgress(step model.Step, status model.Status, percent int) string {
	return fmt.Sprintf("%s:%s:%d", step, status, percent)
}

// Builder accumulates validated attribute updates.
type Builder struct {
	updates []temporal.SearchAttributeUpdate
	err     error
}

// NewBuilder creates an empty attribute builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Status sets the WorkflowStatus attribute.
func (b *Builder) Status(s model.Status) *Builder {
	b.updates = append(b.updates, KeyWorkflowStatus.ValueSet(string(s)))
	return b
}

// Percent sets ProgressPercentage, rejecting out-of-range values.
func (b *Builder) Percent(p int) *Builder {
	if p < 0 || p > 100 {
		b.fail(fmt.Errorf("%w: %d", ErrPercentOutOfRange, p))
		return b
	}
	b.updates = append(b.updates, KeyProgressPercentage.ValueSet(int64(p)))
	return b
}

// Step sets the CurrentStep attribute.
func (b *Builder) Step(s model.Step) *Builder {
	b.updates = append(b.updates, KeyCurrentStep.ValueSet(string(s)))
	return b
}

// ErrorCount sets the ErrorCount attribute.
func (b *Builder) ErrorCount(n int) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: ErrorCount=%d", ErrNegativeCount, n))
		return b
	}
	b.updates = append(b.updates, KeyErrorCount.ValueSet(int64(n)))
	return b
}

// RetryCount sets the RetryCount attribute.
func (b *Builder) RetryCount(n int) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: RetryCount=%d", ErrNegativeCount, n))
		return b
	}
	b.updates = append(b.updates, KeyRetryCount.ValueSet(int64(n)))
	return b
}

// UpdatedAt sets the LastUpdateTime attribute.
func (b *Builder) UpdatedAt(t time.Time) *Builder {
	b.updates = append(b.updates, KeyLastUpdateTime.ValueSet(t.UTC()))
	return b
}

// JobType sets the JobType attribute.
func (b *Builder) JobType(jt model.JobType) *Builder {
	b.updates = append(b.updates, KeyJobType.ValueSet(string(jt)))
	return b
}

// User sets the UserId attribute when non-empty.
func (b *Builder) User(id string) *Builder {
	if id != "" {
		b.updates = append(b.updates, KeyUserID.ValueSet(id))
	}
	return b
}

// Request sets the RequestId attribute.
func (b *Builder) Request(id string) *Builder {
	b.updates = append(b.updates, KeyRequestID.ValueSet(id))
	return b
}

// Duration sets the DurationSeconds attribute.
func (b *Builder) Duration(seconds int) *Builder {
	if seconds < 0 {
		b.fail(fmt.Errorf("%w: DurationSeconds=%d", ErrNegativeCount, seconds))
		return b
	}
	b.updates = append(b.updates, KeyDurationSeconds.ValueSet(int64(seconds)))
	return b
}

// Prompt sets the PromptHash attribute from the prompt text.
func (b *Builder) Prompt(prompt string) *Builder {
	b.updates = append(b.updates, KeyPromptHash.ValueSet(PromptHash(prompt)))
	return b
}

// AssetCount sets the AssetCount attribute.
func (b *Builder) AssetCount(n int) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: AssetCount=%d", ErrNegativeCount, n))
		return b
	}
	b.updates = append(b.updates, KeyAssetCount.ValueSet(int64(n)))
	return b
}

// FileSizeMB sets the FileSizeMB attribute.
func (b *Builder) FileSizeMB(mb float64) *Builder {
	if mb < 0 {
		b.fail(fmt.Errorf("%w: FileSizeMB=%f", ErrNegativeCount, mb))
		return b
	}
	b.updates = append(b.updates, KeyFileSizeMB.ValueSet(mb))
	return b
}

// Progress sets the compound CustomProgress attribute.
func (b *Builder) Progress(step model.Step, status model.Status, percent int) *Builder {
	if percent < 0 || percent > 100 {
		b.fail(fmt.Errorf("%w: %d", ErrPercentOutOfRange, percent))
		return b
	}
	b.updates = append(b.updates, KeyCustomProgress.ValueSet(FormatCustomProgress(step, status, percent)))
	return b
}

// Tag sets the CustomTag attribute when non-empty.
func (b *Builder) Tag(tag string) *Builder {
	if tag != "" {
		b.updates = append(b.updates, KeyCustomTag.ValueSet(tag))
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the accumulated updates, or the first validation error.
func (b *Builder) Build() ([]temporal.SearchAttributeUpdate, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.updates, nil
}

// FromState projects the full workflow state into attribute updates.
func FromState(requestID string, state *model.WorkflowState) ([]temporal.SearchAttributeUpdate, error) {
	input := state.JobInput
	cur := state.CurrentProgress

	b := NewBuilder().
		Status(cur.Status).
		Percent(cur.Percent).
		Step(cur.Step).
		ErrorCount(state.ErrorCount).
		RetryCount(state.RetryCount).
		UpdatedAt(cur.UpdatedAt).
		JobType(input.JobType).
		User(input.UserID).
		Request(requestID).
		Prompt(input.Prompt).
		AssetCount(len(state.ResultURLs)).
		FileSizeMB(state.TotalSizeMB).
		Progress(cur.Step, cur.Status, cur.Percent).
		Tag(input.Metadata["tag"])

	if input.JobType == model.JobTypeVideo {
		b.Duration(input.Duration)
	}

	return b.Build()
}
