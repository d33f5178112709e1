package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

const (
	// DefaultRunPageSize is the page size when a run listing names none.
	DefaultRunPageSize = 20
	// MaxRunPageSize caps a single run listing page.
	MaxRunPageSize = 100
)

// ListOptions selects a page of recorded runs, newest first.
type ListOptions struct {
	Limit  int
	Offset int
	// State restricts the listing to runs in that state. Empty lists all.
	State RunState
}

// DefaultListOptions returns the first page of all runs.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: DefaultRunPageSize}
}

// Clamp forces the page window into range.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = DefaultRunPageSize
	}
	if o.Limit > MaxRunPageSize {
		o.Limit = MaxRunPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Validate reports a State filter that names no run state.
func (o ListOptions) Validate() *APIError {
	switch o.State {
	case "", RunStateRunning, RunStateCompleted, RunStateAborted:
		return nil
	}
	return NewValidationError("invalid run filter",
		FieldError{Field: "state", Message: "expected RUNNING, COMPLETED or ABORTED"})
}
