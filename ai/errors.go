package ai

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrDimensionMismatch is returned when an embedder returns a vector of
	// the wrong length, or the wrong number of vectors.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
