package workmem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
)

// Store manages processing jobs and their chunk collections.
// It is safe for concurrent use. Writes to one job are serialized.
type Store struct {
	jobs        storage.JobRepository
	checkpoints storage.CheckpointRepository
	backend     storage.CollectionBackend
	embedder    ai.Embedder
	logger      *slog.Logger

	locks sync.Map
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store. embedder may be nil, in which case chunks are never
// embedded and search is unavailable.
func New(jobs storage.JobRepository, checkpoints storage.CheckpointRepository, backend storage.CollectionBackend, embedder ai.Embedder, opts ...Option) *Store {
	s := &Store{
		jobs:        jobs,
		checkpoints: checkpoints,
		backend:     backend,
		embedder:    embedder,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "workmem")
	return s
}

func (s *Store) lock(jobID string) func() {
	v, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateJob records a pending job and creates its collection.
func (s *Store) CreateJob(ctx context.Context, name, sourceFile string, sourceSize int64, metadata core.JobMetadata) (*core.ProcessingJob, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	job := &core.ProcessingJob{
		ID:             id,
		Name:           name,
		SourceFile:     sourceFile,
		SourceSize:     sourceSize,
		CollectionName: core.CollectionName(id),
		Status:         core.JobStatusPending,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.create(ctx, job)
}

// CreateResumedJob creates a pending job that continues prev on the same source.
// The new job inherits prev's chunk counter and offset, so its chunk ids
// follow on from the last id prev stored. A job can be resumed only once;
// a second call returns core.ErrJobNotResumable.
func (s *Store) CreateResumedJob(ctx context.Context, prev *core.ProcessingJob) (*core.ProcessingJob, error) {
	unlock := s.lock(prev.ID)
	defer unlock()

	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Metadata.ResumedFrom == prev.ID {
			return nil, fmt.Errorf("job %s already resumed as %s: %w", prev.ID, j.ID, core.ErrJobNotResumable)
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	job := &core.ProcessingJob{
		ID:             id,
		Name:           prev.Name,
		SourceFile:     prev.SourceFile,
		SourceSize:     prev.SourceSize,
		CollectionName: core.CollectionName(id),
		Status:         core.JobStatusPending,
		Progress: core.JobProgress{
			BytesProcessed:      prev.Progress.BytesProcessed,
			ChunksCreated:       prev.Progress.ChunksCreated,
			EmbeddingsGenerated: prev.Progress.EmbeddingsGenerated,
			LastOffset:          prev.Progress.LastOffset,
		},
		Metadata:  prev.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.Metadata.ResumedFrom = prev.ID
	return s.create(ctx, job)
}

func (s *Store) create(ctx context.Context, job *core.ProcessingJob) (*core.ProcessingJob, error) {
	meta := map[string]string{
		"jobId":      job.ID,
		"sourceFile": job.SourceFile,
		"createdAt":  job.CreatedAt.Format(time.RFC3339Nano),
	}
	if job.Metadata.ResumedFrom != "" {
		meta["resumedFrom"] = job.Metadata.ResumedFrom
	}
	if err := s.backend.CreateCollection(ctx, job.CollectionName, meta); err != nil {
		return nil, fmt.Errorf("%w: create collection %s: %w", core.ErrBackendUnavailable, job.CollectionName, err)
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		_ = s.backend.DeleteCollection(ctx, job.CollectionName)
		return nil, err
	}
	s.logger.Debug("job created", "job", job.ID, "source", job.SourceFile, "resumedFrom", job.Metadata.ResumedFrom)
	return job.Clone(), nil
}

// GetJob returns the job with the given id or core.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*core.ProcessingJob, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, jobError(id, err)
	}
	return job, nil
}

// ListJobs returns every job, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*core.ProcessingJob, error) {
	return s.jobs.ListJobs(ctx)
}

// DeleteJob drops the job's collection, checkpoint and record.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteCollection(ctx, job.CollectionName); err != nil {
		return fmt.Errorf("%w: delete collection %s: %w", core.ErrBackendUnavailable, job.CollectionName, err)
	}
	if err := s.checkpoints.DeleteCheckpoint(ctx, id); err != nil {
		return err
	}
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.locks.Delete(id)
	return nil
}

// SetJobStatus moves a job to status. errMsg is recorded when the job fails.
func (s *Store) SetJobStatus(ctx context.Context, id string, status core.JobStatus, errMsg string) (*core.ProcessingJob, error) {
	if err := core.ValidateStatus(status); err != nil {
		return nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateTransition(job.Status, status); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	switch status {
	case core.JobStatusCompleted:
		job.CompletedAt = &now
	case core.JobStatusFailed:
		job.Error = errMsg
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, jobError(id, err)
	}
	s.logger.Debug("job status changed", "job", id, "status", status)
	return job, nil
}

// LoadCheckpoint returns the parser checkpoint saved with the job's latest
// batch, or nil if none was saved.
func (s *Store) LoadCheckpoint(ctx context.Context, jobID string) (*core.Checkpoint, error) {
	return s.checkpoints.LoadCheckpoint(ctx, jobID)
}

// ListCollections returns the names of collections owned by jobs.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
	}
	out := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, core.CollectionPrefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

// jobError maps repository errors onto domain errors.
func jobError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("job %s: %w", id, core.ErrJobNotFound)
	}
	return err
}

// collectionError maps backend errors onto domain errors. A missing
// collection means the job's data is gone.
func collectionError(jobID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("job %s: %w: %w", jobID, core.ErrJobNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
}
