package domain

import (
	"time"
)

// BatchInfo describes a set of runs discovered under one directory and
// grouped for screening.
type BatchInfo struct {
	ID        string    `json:"id" validate:"required,uuid"`
	Directory string    `json:"directory" validate:"required"`
	Runs      []RunInfo `json:"runs"`
	CreatedAt time.Time `json:"created_at"`
}

// RunKeys returns the run keys of the batch in discovery order.
func (b BatchInfo) RunKeys() []string {
	keys := make([]string, 0, len(b.Runs))
	for _, r := range b.Runs {
		keys = append(keys, r.Key)
	}
	return keys
}

// BatchResult is the aggregated outcome of screening one batch.
type BatchResult struct {
	Batch       BatchInfo         `json:"batch"`
	Results     []ScreeningResult `json:"results"`
	Rules       Rules             `json:"rules"`
	Passed      int               `json:"passed"`
	Review      int               `json:"review"`
	Failed      int               `json:"failed"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Counts tallies the verdicts in Results into the Passed, Review and Failed
// fields and returns the receiver for chaining.
func (r *BatchResult) Counts() *BatchResult {
	r.Passed, r.Review, r.Failed = 0, 0, 0
	for _, res := range r.Results {
		switch res.Verdict {
		case VerdictPass:
			r.Passed++
		case VerdictReview:
			r.Review++
		case VerdictFail:
			r.Failed++
		}
	}
	return r
}
