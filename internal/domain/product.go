package domain

import "time"

const (
	ReasonNotFoundInBatch   = "not found in batch"
	ReasonAlreadyAggregated = "already aggregated"
)

// Product is one traceable unit of a batch.
type Product struct {
	ID           int64
	UniqueCode   string
	BatchID      int64
	IsAggregated bool
	AggregatedAt *time.Time
	CreatedAt    time.Time
}

// AggregationError is a per-code business failure. It is data, not an error path.
type AggregationError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type AggregationResult struct {
	Success    bool               `json:"success"`
	Total      int                `json:"total"`
	Aggregated int                `json:"aggregated"`
	Failed     int                `json:"failed"`
	Errors     []AggregationError `json:"errors"`
}

// AddFailure records a per-code business failure.
func (r *AggregationResult) AddFailure(code string, reason string) {
	r.Failed++
	r.Errors = append(r.Errors, AggregationError{Code: code, Reason: reason})
}
