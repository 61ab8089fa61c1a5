package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrPayloadInvalid is returned for oversized, corrupt or non-image uploads.
	ErrPayloadInvalid = errors.New("payload invalid")

	// ErrEmbeddingInvalid is returned for embeddings that are empty, not 768 wide or non-finite.
	ErrEmbeddingInvalid = errors.New("embedding invalid")

	// ErrEmbeddingUnavailable means no embedding provider produced a vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrSearchBackendUnavailable means the vector index or datastore failed.
	ErrSearchBackendUnavailable = errors.New("search backend unavailable")

	// ErrUpstreamUnavailable means the Instagram fetch collaborator could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPersistenceDegraded marks a record saved without its enrichment, or failed analytics.
	ErrPersistenceDegraded = errors.New("persistence degraded")

	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError describes a caller mistake in one input field.
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

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RateLimitError carries retry information for a rejected request.
type RateLimitError struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
