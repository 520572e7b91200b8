package chunkstream

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/ai/mock"
	"github.com/poiesic/chunkstream/config"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/reembed"
	"github.com/poiesic/chunkstream/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ChunkSize = 200
	cfg.OverlapSize = 20
	cfg.BatchSize = 4
	cfg.PoolSize = 2
	return cfg
}

func writeNotes(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	for i := 0; b.Len() < 3000; i++ {
		b.WriteString("The quarterly report covers revenue, hiring and the office move.\n")
	}
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestOpen(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendChromem} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.VectorBackend = backend

			e, err := Open(cfg)
			require.NoError(t, err)
			defer e.Close()

			assert.NotNil(t, e.Memory())
			assert.NotNil(t, e.Processor())
			assert.NotNil(t, e.Content())
			assert.NotNil(t, e.Embedder())
			assert.Same(t, cfg, e.Config())
			assert.DirExists(t, filepath.Join(cfg.DataDir, "db"))
			assert.DirExists(t, cfg.ContentPath())
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.OverlapSize = cfg.ChunkSize
		_, err := Open(cfg)
		assert.ErrorIs(t, err, core.ErrInvalidChunkingOptions)
	})

	t.Run("data dir is a file", func(t *testing.T) {
		cfg := testConfig(t)
		file := filepath.Join(cfg.DataDir, "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		cfg.DataDir = file
		_, err := Open(cfg)
		assert.Error(t, err)
	})
}

func TestEngine_IngestAndSearch(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendChromem} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.VectorBackend = backend
			e, err := Open(cfg)
			require.NoError(t, err)
			defer e.Close()

			ctx := context.Background()
			path := writeNotes(t, t.TempDir())

			res, err := e.Processor().ProcessFile(ctx, path, e.IngestOptions())
			require.NoError(t, err)
			require.True(t, res.Success)
			assert.Greater(t, res.ChunksCreated, int64(10))

			job, err := e.Memory().GetJob(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, core.JobStatusCompleted, job.Status)
			assert.Equal(t, res.ChunksCreated, job.Progress.EmbeddingsGenerated)

			chunks, err := e.Memory().GetChunks(ctx, res.JobID, 1, 0)
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.True(t, e.Content().Has(ctx, chunks[0].ContentRef))

			hits, err := e.Memory().SearchChunks(ctx, res.JobID, "office move", 3, nil)
			require.NoError(t, err)
			assert.Len(t, hits, 3)

			searcher, err := e.NewSearcher()
			require.NoError(t, err)
			hits, err = searcher.FindSimilar(ctx, "office move", 2)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, res.JobID, hits[0].Chunk.JobID)

			var progress bytes.Buffer
			written, err := e.NewReembedder(&reembed.Config{BatchSize: 5, ReportInterval: 5, MaxRetries: 1}, &progress).Run(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, int(res.ChunksCreated), written)
			assert.Contains(t, progress.String(), "Reembedding complete")
		})
	}
}

func TestEngine_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("chromem", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VectorBackend = config.BackendChromem
		e, err := Open(cfg)
		require.NoError(t, err)
		defer e.Close()

		res, err := e.Processor().ProcessFile(ctx, writeNotes(t, t.TempDir()), e.IngestOptions())
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, e.Snapshot(ctx, &buf, res.JobID))
		assert.NotZero(t, buf.Len())

		err = e.Snapshot(ctx, &bytes.Buffer{}, "missing")
		assert.ErrorIs(t, err, core.ErrJobNotFound)
	})

	t.Run("badger", func(t *testing.T) {
		e, err := Open(testConfig(t))
		require.NoError(t, err)
		defer e.Close()

		err = e.Snapshot(ctx, &bytes.Buffer{})
		assert.ErrorIs(t, err, ErrSnapshotUnsupported)
	})
}

func TestEngine_WithEmbedder(t *testing.T) {
	cfg := testConfig(t)
	embedder := &mock.MockEmbedder{Dims: cfg.Dimensions}
	e, err := Open(cfg, WithEmbedder(embedder))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, embedder, e.Embedder())
}

func TestEngine_IngestOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxChunkSize = 500
	cfg.EmbeddingEnabled = false
	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	opts := e.IngestOptions()
	assert.Equal(t, 200, opts.ChunkSize)
	assert.Equal(t, 20, opts.OverlapSize)
	assert.Equal(t, 500, opts.MaxChunkSize)
	assert.False(t, opts.GenerateEmbeddings)
}

func TestEngine_InboxWatcher(t *testing.T) {
	t.Run("requires inbox", func(t *testing.T) {
		e, err := Open(testConfig(t))
		require.NoError(t, err)
		defer e.Close()

		_, err = e.NewInboxWatcher()
		assert.Error(t, err)
	})

	t.Run("ingests dropped files", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.InboxDir = filepath.Join(t.TempDir(), "inbox")
		e, err := Open(cfg)
		require.NoError(t, err)
		defer e.Close()

		w, err := e.NewInboxWatcher(watch.WithSettle(30 * time.Millisecond))
		require.NoError(t, err)
		defer w.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()
		defer func() {
			cancel()
			<-done
		}()

		path := writeNotes(t, cfg.InboxDir)

		require.Eventually(t, func() bool {
			jobs, err := e.Memory().ListJobs(context.Background())
			if err != nil || len(jobs) != 1 {
				return false
			}
			return jobs[0].Status == core.JobStatusCompleted && jobs[0].SourceFile == path
		}, 10*time.Second, 20*time.Millisecond)
	})
}
