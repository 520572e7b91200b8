package reembed

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/ai/mock"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage/badger"
	"github.com/poiesic/chunkstream/workmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMemory(t *testing.T) *workmem.Store {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return workmem.New(stores.Jobs, stores.Checkpoints, stores.Collections, &mock.MockEmbedder{Dims: 8})
}

// seedJob stores embedded chunks, then plain ones, and completes the job.
func seedJob(t *testing.T, memory *workmem.Store, embedded, plain int) string {
	t.Helper()
	ctx := context.Background()
	job, err := memory.CreateJob(ctx, "notes", "/evidence/notes.txt", 1<<20,
		core.JobMetadata{FileType: core.FileTypeText, ChunkSize: 100, OverlapSize: 10})
	require.NoError(t, err)
	_, err = memory.SetJobStatus(ctx, job.ID, core.JobStatusProcessing, "")
	require.NoError(t, err)

	batch := func(n int, offset int) []*core.Chunk {
		chunks := make([]*core.Chunk, n)
		for i := range chunks {
			chunks[i] = &core.Chunk{
				Content:  strings.Repeat("word ", i+offset+1),
				Offset:   int64((i + offset) * 90),
				Length:   100,
				Metadata: core.ChunkMetadata{Kind: core.ChunkKindText},
			}
		}
		return chunks
	}
	if embedded > 0 {
		require.NoError(t, memory.StoreChunks(ctx, job.ID, batch(embedded, 0), true, nil))
	}
	if plain > 0 {
		require.NoError(t, memory.StoreChunks(ctx, job.ID, batch(plain, embedded), false, nil))
	}
	_, err = memory.SetJobStatus(ctx, job.ID, core.JobStatusCompleted, "")
	require.NoError(t, err)
	return job.ID
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestReembedder_Run(t *testing.T) {
	memory := setupMemory(t)
	jobID := seedJob(t, memory, 0, 10)
	ctx := context.Background()

	var buf bytes.Buffer
	config := &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     3,
		RetryDelay:     10 * time.Millisecond,
	}
	written, err := NewReembedder(memory, &mock.MockEmbedder{Dims: 8}, config, &buf).Run(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 10, written)

	chunks, err := memory.GetChunks(ctx, jobID, 0, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 10)
	for i, c := range chunks {
		assert.Equal(t, int64(i), c.ID, "ids are kept")
		require.Len(t, c.Embedding, 8)
		assert.InDelta(t, 1.0, magnitude(c.Embedding), 0.01, "vector should be normalized")
	}

	job, err := memory.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), job.Progress.EmbeddingsGenerated)
	assert.Equal(t, int64(10), job.Progress.ChunksCreated)

	hits, err := memory.SearchChunks(ctx, jobID, "word word", 3, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	output := buf.String()
	assert.Contains(t, output, "10/10", "should show completion")
	assert.Contains(t, output, "Embedded 10 of 10 chunks")
}

func TestReembedder_OnlyMissing(t *testing.T) {
	memory := setupMemory(t)
	jobID := seedJob(t, memory, 4, 6)
	ctx := context.Background()

	before, err := memory.GetChunks(ctx, jobID, 4, 0)
	require.NoError(t, err)

	config := DefaultConfig()
	config.OnlyMissing = true
	config.RetryDelay = time.Millisecond
	written, err := NewReembedder(memory, &mock.MockEmbedder{Dims: 8}, config, &bytes.Buffer{}).Run(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 6, written)

	after, err := memory.GetChunks(ctx, jobID, 0, 0)
	require.NoError(t, err)
	require.Len(t, after, 10)
	for i := range before {
		assert.Equal(t, before[i].Embedding, after[i].Embedding, "existing embeddings are untouched")
	}
	for _, c := range after[4:] {
		assert.NotEmpty(t, c.Embedding)
	}

	job, err := memory.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), job.Progress.EmbeddingsGenerated)
}

func TestReembedder_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty job", func(t *testing.T) {
		memory := setupMemory(t)
		jobID := seedJob(t, memory, 0, 0)
		var buf bytes.Buffer
		written, err := NewReembedder(memory, &mockEmbedder{}, nil, &buf).Run(ctx, jobID)
		require.NoError(t, err)
		assert.Zero(t, written)
		assert.Contains(t, buf.String(), "No chunks found")
	})

	t.Run("unknown job", func(t *testing.T) {
		memory := setupMemory(t)
		_, err := NewReembedder(memory, &mockEmbedder{}, nil, &bytes.Buffer{}).Run(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("job still processing", func(t *testing.T) {
		memory := setupMemory(t)
		job, err := memory.CreateJob(ctx, "live", "/evidence/live.txt", 10, core.JobMetadata{FileType: core.FileTypeText})
		require.NoError(t, err)
		_, err = NewReembedder(memory, &mockEmbedder{}, nil, &bytes.Buffer{}).Run(ctx, job.ID)
		assert.ErrorIs(t, err, ErrJobBusy)
	})
}
