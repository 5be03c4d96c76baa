package server

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiltersFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("status", "completed")
	q.Set("step", "video")
	q.Set("job_type", "video")
	q.Set("user_id", "user-1")
	q.Set("min_percent", "75")
	q.Set("max_percent", "90")
	q.Set("tag", "batch-a")

	f, err := FiltersFromQuery(q)
	require.NoError(t, err)
	assert.Equal(t, "completed", f.Status)
	assert.Equal(t, "video", f.Step)
	assert.Equal(t, "video", f.JobType)
	assert.Equal(t, "user-1", f.UserID)
	assert.Equal(t, 75, f.MinPercent)
	assert.True(t, f.HasMin)
	assert.Equal(t, 90, f.MaxPercent)
	assert.True(t, f.HasMax)
	assert.Equal(t, "batch-a", f.Tag)
}

func TestFiltersFromQueryInvalidPercent(t *testing.T) {
	for _, raw := range []string{"-1", "101", "abc"} {
		q := url.Values{}
		q.Set("min_percent", raw)

		_, err := FiltersFromQuery(q)
		assert.Error(t, err, raw)

		q = url.Values{}
		q.Set("max_percent", raw)

		_, err = FiltersFromQuery(q)
		assert.Error(t, err, raw)
	}
}

func TestVisibilityQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		want    string
	}{
		{
			name:    "empty",
			filters: Filters{},
			want:    "",
		},
		{
			name:    "single clause",
			filters: Filters{Status: "failed"},
			want:    "WorkflowStatus = 'failed'",
		},
		{
			name:    "multiple clauses joined with AND",
			filters: Filters{Status: "completed", JobType: "image", MinPercent: 50, HasMin: true},
			want:    "WorkflowStatus = 'completed' AND JobType = 'image' AND ProgressPercentage >= 50",
		},
		{
			name:    "zero percent still emitted when set",
			filters: Filters{MinPercent: 0, HasMin: true},
			want:    "ProgressPercentage >= 0",
		},
		{
			name:    "step and percent range",
			filters: Filters{Step: "processing", MaxPercent: 80, HasMax: true},
			want:    "CurrentStep = 'processing' AND ProgressPercentage <= 80",
		},
		{
			name:    "quotes escaped",
			filters: Filters{UserID: "o'brien"},
			want:    "UserId = 'o''brien'",
		},
		{
			name:    "tag clause",
			filters: Filters{Tag: "batch-a"},
			want:    "CustomTag = 'batch-a'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.VisibilityQuery())
		})
	}
}
