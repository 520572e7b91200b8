package badger

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
// Jobs are stored as JSON values under job:<id>.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

func (r *JobRepository) CreateJob(ctx context.Context, job *core.ProcessingJob) error {
	return r.backend.update(func(tx *badger.Txn) error {
		found, err := exists(tx, makeJobKey(job.ID))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("job %s: %w", job.ID, storage.ErrDuplicateKey)
		}
		return setJob(tx, job)
	})
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.ProcessingJob, error) {
	var job *core.ProcessingJob
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})
	return job, err
}

func (r *JobRepository) UpdateJob(ctx context.Context, job *core.ProcessingJob) error {
	return r.backend.update(func(tx *badger.Txn) error {
		found, err := exists(tx, makeJobKey(job.ID))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("job %s: %w", job.ID, storage.ErrNotFound)
		}
		return setJob(tx, job)
	})
}

// ListJobs returns all jobs, newest first.
func (r *JobRepository) ListJobs(ctx context.Context) ([]*core.ProcessingJob, error) {
	var jobs []*core.ProcessingJob
	err := r.backend.view(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				job, err := storage.UnmarshalJob(val)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *core.ProcessingJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs, nil
}

func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	return r.backend.update(func(tx *badger.Txn) error {
		return tx.Delete(makeJobKey(id))
	})
}

func getJob(tx *badger.Txn, id string) (*core.ProcessingJob, error) {
	item, err := tx.Get(makeJobKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
		}
		return nil, err
	}
	var job *core.ProcessingJob
	err = item.Value(func(val []byte) error {
		var err error
		job, err = storage.UnmarshalJob(val)
		return err
	})
	return job, err
}

func setJob(tx *badger.Txn, job *core.ProcessingJob) error {
	value, err := storage.MarshalJob(job)
	if err != nil {
		return err
	}
	return tx.Set(makeJobKey(job.ID), value)
}
