package search

import "errors"

var (
	// ErrMemoryRequired is returned when no working memory store is provided.
	ErrMemoryRequired = errors.New("working memory required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")
)
