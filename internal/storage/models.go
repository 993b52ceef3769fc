package storage

import "time"

// Usage is one ledger row describing a completed gateway request. It holds
// request metadata only, never response content.
type Usage struct {
	ID               string
	CreatedAt        time.Time
	Route            string
	Model            string
	Stream           bool
	Status           int
	PromptTokens     int64
	CompletionTokens int64
	Records          int
	DurationMs       int64
}

// ModelTotals aggregates ledger rows for one model.
type ModelTotals struct {
	Model            string
	Requests         int
	PromptTokens     int64
	CompletionTokens int64
}
