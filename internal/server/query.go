package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Filters are the supported visibility-listing predicates.
type Filters struct {
	Status     string
	Step       string
	JobType    string
	UserID     string
	MinPercent int
	HasMin     bool
	MaxPercent int
	HasMax     bool
	Tag        string
}

// FiltersFromQuery extracts listing filters from URL query parameters.
func FiltersFromQuery(q url.Values) (Filters, error) {
	f := Filters{
		Status:  q.Get("status"),
		Step:    q.Get("step"),
		JobType: q.Get("job_type"),
		UserID:  q.Get("user_id"),
		Tag:     q.Get("tag"),
	}

	if raw := q.Get("min_percent"); raw != "" {
		n, err := parsePercent(raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid min_percent %q", raw)
		}
		f.MinPercent = n
		f.HasMin = true
	}
	if raw := q.Get("max_percent"); raw != "" {
		n, err := parsePercent(raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid max_percent %q", raw)
		}
		f.MaxPercent = n
		f.HasMax = true
	}

	return f, nil
}

func parsePercent(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}

// VisibilityQuery compiles the filters into a visibility-store query over
// the registered search attributes. Empty filters compile to an empty
// query, which lists everything.
func (f Filters) VisibilityQuery() string {
	var clauses []string

	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("WorkflowStatus = '%s'", escapeQueryValue(f.Status)))
	}
	if f.Step != "" {
		clauses = append(clauses, fmt.Sprintf("CurrentStep = '%s'", escapeQueryValue(f.Step)))
	}
	if f.JobType != "" {
		clauses = append(clauses, fmt.Sprintf("JobType = '%s'", escapeQueryValue(f.JobType)))
	}
	if f.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("UserId = '%s'", escapeQueryValue(f.UserID)))
	}
	if f.HasMin {
		clauses = append(clauses, fmt.Sprintf("ProgressPercentage >= %d", f.MinPercent))
	}
	if f.HasMax {
		clauses = append(clauses, fmt.Sprintf("ProgressPercentage <= %d", f.MaxPercent))
	}
	if f.Tag != "" {
		clauses = append(clauses, fmt.Sprintf("CustomTag = '%s'", escapeQueryValue(f.Tag)))
	}

	return strings.Join(clauses, " AND ")
}

// escapeQueryValue doubles single quotes so user input cannot break out of
// a string literal in the visibility query.
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
