package workmem

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
)

// DefaultSearchLimit is used when SearchChunks is given a non-positive limit.
const DefaultSearchLimit = 10

// StoreChunks appends a batch of chunks to a job's collection.
//
// Each chunk is assigned the next id from the job's ChunksCreated counter
// and the job's id. With generateEmbeddings set, chunks are embedded first;
// an embedding failure is logged and the chunks are stored without vectors.
// The whole batch is written in one backend call and the job's progress is
// advanced only after it succeeds. checkpoint, if not nil, is saved with
// the batch. Paused, completed and failed jobs accept no chunks.
func (s *Store) StoreChunks(ctx context.Context, jobID string, chunks []*core.Chunk, generateEmbeddings bool, checkpoint *core.Checkpoint) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lock(jobID)
	defer unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch {
	case job.Status == core.JobStatusPaused:
		return fmt.Errorf("job %s: %w", jobID, core.ErrJobPaused)
	case job.Status.IsTerminal():
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, core.ErrJobClosed)
	}

	next := job.Progress.ChunksCreated
	for i, chunk := range chunks {
		chunk.ID = next + int64(i)
		chunk.JobID = jobID
	}

	var embedded int64
	if generateEmbeddings {
		embedded = s.embed(ctx, jobID, chunks)
	}

	updated := job.Clone()
	updated.Progress.ChunksCreated += int64(len(chunks))
	updated.Progress.EmbeddingsGenerated += embedded
	updated.Progress.LastOffset = max(updated.Progress.LastOffset, chunks[len(chunks)-1].Offset)
	updated.UpdatedAt = time.Now().UTC()
	if checkpoint != nil {
		checkpoint.JobID = jobID
		checkpoint.UpdatedAt = updated.UpdatedAt
		updated.Progress.BytesProcessed = max(updated.Progress.BytesProcessed, checkpoint.Position)
	}

	if committer, ok := s.backend.(storage.BatchCommitter); ok {
		if err := committer.CommitBatch(ctx, updated, chunks, checkpoint); err != nil {
			return collectionError(jobID, err)
		}
		return nil
	}

	if err := s.backend.AddChunks(ctx, job.CollectionName, chunks); err != nil {
		return collectionError(jobID, err)
	}
	if err := s.jobs.UpdateJob(ctx, updated); err != nil {
		return jobError(jobID, err)
	}
	if checkpoint != nil {
		if err := s.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// embed fills in chunk embeddings and returns how many were set.
func (s *Store) embed(ctx context.Context, jobID string, chunks []*core.Chunk) int64 {
	if s.embedder == nil {
		return 0
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	var vectors [][]float32
	if fe, ok := s.embedder.(*ai.FallbackEmbedder); ok {
		res, err := fe.Embed(ctx, texts)
		if err != nil {
			s.logger.Warn("embedding failed, storing chunks without vectors", "job", jobID, "err", err)
			return 0
		}
		if res.Fallback {
			s.logger.Debug("batch embedded locally", "job", jobID, "chunks", len(chunks))
		}
		vectors = res.Vectors
	} else {
		v, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			s.logger.Warn("embedding failed, storing chunks without vectors", "job", jobID, "err", err)
			return 0
		}
		vectors = v
	}
	if len(vectors) != len(chunks) {
		s.logger.Warn("embedding count mismatch, storing chunks without vectors",
			"job", jobID, "chunks", len(chunks), "vectors", len(vectors))
		return 0
	}

	var n int64
	for i, chunk := range chunks {
		if len(vectors[i]) > 0 {
			chunk.Embedding = vectors[i]
			n++
		}
	}
	return n
}

// GetChunks returns up to limit chunks of a job ordered by id, skipping the
// first offset. A non-positive limit returns everything after offset.
func (s *Store) GetChunks(ctx context.Context, jobID string, limit, offset int) ([]*core.Chunk, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.backend.GetChunks(ctx, job.CollectionName, limit, offset)
	if err != nil {
		return nil, collectionError(jobID, err)
	}
	return chunks, nil
}

// GetChunkCount returns how many chunks a job has stored.
func (s *Store) GetChunkCount(ctx context.Context, jobID string) (int, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	n, err := s.backend.Count(ctx, job.CollectionName)
	if err != nil {
		return 0, collectionError(jobID, err)
	}
	return n, nil
}

// SearchChunks embeds query and returns the job's most similar chunks, best
// first. Chunks stored without an embedding never match. filter restricts
// results to chunks whose flattened metadata (kind, xpath, element, line
// and so on) matches every entry.
func (s *Store) SearchChunks(ctx context.Context, jobID, query string, limit int, filter map[string]string) ([]*core.SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("search job %s: no embedder configured", jobID)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.query(ctx, job, vector, limit, filter)
}

// SearchVector is SearchChunks with a precomputed query vector.
func (s *Store) SearchVector(ctx context.Context, jobID string, vector []float32, limit int, filter map[string]string) ([]*core.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, job, vector, limit, filter)
}

func (s *Store) query(ctx context.Context, job *core.ProcessingJob, vector []float32, limit int, filter map[string]string) ([]*core.SearchResult, error) {
	results, err := s.backend.Query(ctx, job.CollectionName, vector, limit, filter)
	if err != nil {
		return nil, collectionError(job.ID, err)
	}
	return results, nil
}

// UpdateEmbeddings rewrites already stored chunks, keeping their ids, and
// adds added to the job's EmbeddingsGenerated counter, capped at the number
// of chunks created.
func (s *Store) UpdateEmbeddings(ctx context.Context, jobID string, chunks []*core.Chunk, added int64) error {
	if len(chunks) == 0 {
		return nil
	}
	unlock := s.lock(jobID)
	defer unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if c.JobID != jobID || c.ID < 0 || c.ID >= job.Progress.ChunksCreated {
			return fmt.Errorf("%w: chunk %d does not belong to job %s", storage.ErrInvalidQuery, c.ID, jobID)
		}
	}
	if err := s.backend.AddChunks(ctx, job.CollectionName, chunks); err != nil {
		return collectionError(jobID, err)
	}
	if added == 0 {
		return nil
	}

	updated := job.Clone()
	updated.Progress.EmbeddingsGenerated = min(updated.Progress.EmbeddingsGenerated+added, updated.Progress.ChunksCreated)
	updated.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, updated); err != nil {
		return jobError(jobID, err)
	}
	return nil
}
