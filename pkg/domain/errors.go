package domain

import "errors"

// Errors crossing the core boundary. Scanner-local failures are contained
// by the orchestrator and never surface directly.
var (
	// ErrPipelineUnavailable indicates every scanner in the requested set failed.
	ErrPipelineUnavailable = errors.New("pipeline unavailable: all scanners failed")
	// ErrUnknownScanner indicates the request named a scanner that is not configured.
	ErrUnknownScanner = errors.New("unknown scanner requested")
	// ErrInvalidThreshold indicates a risk threshold outside [0,1].
	ErrInvalidThreshold = errors.New("risk threshold must be in [0,1]")
	// ErrInvalidContentType indicates an unrecognised content type.
	ErrInvalidContentType = errors.New("invalid content type")
	// ErrCacheUnavailable indicates the result cache cannot be reached.
	// The pipeline bypasses the cache when it sees this; never fatal.
	ErrCacheUnavailable = errors.New("result cache unavailable")
)

// DomainError wraps errors with a stable machine-readable code.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
