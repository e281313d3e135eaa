package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already finished")
)

// ValidationError rejects a submission before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StructureParseError means the reasoning service returned no usable unit list.
// It is fatal to the job.
type StructureParseError struct {
	Reason string
	Err    error
}

func (e *StructureParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("structure parse failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("structure parse failed: %s", e.Reason)
}

func (e *StructureParseError) Unwrap() error { return e.Err }

// UpstreamError is a failed call to an external generation service.
// StatusCode is 0 for transport-level failures.
type UpstreamError struct {
	Service    string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Service, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewStatusError classifies an HTTP status from a generation service.
// Only 5xx is retryable; every 4xx is terminal.
func NewStatusError(service string, status int, body string) *UpstreamError {
	return &UpstreamError{
		Service:    service,
		StatusCode: status,
		Retryable:  status >= 500,
		Message:    body,
	}
}

// RateLimitError is returned before any external call when a caller's quota is spent.
type RateLimitError struct {
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d), retry after %s", e.Scope, e.Limit, e.RetryAfter)
}
