package storage

import (
	"context"

	"github.com/poiesic/chunkstream/core"
)

// JobRepository persists processing job records.
// Implementations must be thread-safe and support concurrent access.
type JobRepository interface {
	// CreateJob stores a new job.
	// Returns ErrDuplicateKey if a job with the same ID exists.
	CreateJob(ctx context.Context, job *core.ProcessingJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.ProcessingJob, error)

	// UpdateJob replaces an existing job record.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateJob(ctx context.Context, job *core.ProcessingJob) error

	// ListJobs returns every job, newest first.
	ListJobs(ctx context.Context) ([]*core.ProcessingJob, error)

	// DeleteJob removes a job record. Deleting a missing job is not an error.
	DeleteJob(ctx context.Context, id string) error
}

// CheckpointRepository persists the resumable state of each job.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, replacing any previous one for the job.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a job.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, jobID string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a job, if any.
	DeleteCheckpoint(ctx context.Context, jobID string) error
}

// CollectionBackend stores chunks in named collections and answers
// similarity queries over them.
type CollectionBackend interface {
	// CreateCollection creates an empty collection. Creating an existing
	// collection returns ErrDuplicateKey.
	CreateCollection(ctx context.Context, name string, metadata map[string]string) error

	// DeleteCollection removes a collection and its chunks.
	// Deleting a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns the names of all collections, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// AddChunks writes a batch of chunks in a single call.
	// Returns ErrNotFound if the collection doesn't exist.
	AddChunks(ctx context.Context, name string, chunks []*core.Chunk) error

	// GetChunks returns up to limit chunks ordered by ID, skipping the first offset.
	GetChunks(ctx context.Context, name string, limit, offset int) ([]*core.Chunk, error)

	// Count returns the number of chunks in a collection.
	Count(ctx context.Context, name string) (int, error)

	// Query returns the n chunks most similar to vector, best first.
	// Chunks stored without an embedding are never returned. filter keeps
	// only chunks whose flattened metadata matches every entry.
	Query(ctx context.Context, name string, vector []float32, n int, filter map[string]string) ([]*core.SearchResult, error)

	// Close releases resources held by the backend.
	Close() error
}

// BatchCommitter is implemented by backends that can write a chunk batch,
// the owning job's record and its checkpoint in one transaction.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, job *core.ProcessingJob, chunks []*core.Chunk, checkpoint *core.Checkpoint) error
}
