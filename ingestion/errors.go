package ingestion

import "errors"

var (
	// ErrMemoryRequired is returned when no working memory store is provided.
	ErrMemoryRequired = errors.New("working memory store required")
)
