package search

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/poiesic/chunkstream/ai/mock"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage/badger"
	"github.com/poiesic/chunkstream/workmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

func setupMemory(t *testing.T) *workmem.Store {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return workmem.New(stores.Jobs, stores.Checkpoints, stores.Collections, &mock.MockEmbedder{Dims: testDims})
}

func newProvider() *mock.MockProvider {
	return mock.NewMockProviderWithEmbedder(&mock.MockEmbedder{Dims: testDims}).(*mock.MockProvider)
}

// addJob stores one text chunk per content, embedded when embed is set.
func addJob(t *testing.T, memory *workmem.Store, name string, embed bool, contents ...string) string {
	t.Helper()
	ctx := context.Background()
	job, err := memory.CreateJob(ctx, name, "/evidence/"+name, 1000, core.JobMetadata{FileType: core.FileTypeText})
	require.NoError(t, err)

	chunks := make([]*core.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = &core.Chunk{
			Content:  c,
			Offset:   int64(i * 100),
			Length:   len(c),
			Metadata: core.ChunkMetadata{Kind: core.ChunkKindText},
		}
	}
	require.NoError(t, memory.StoreChunks(ctx, job.ID, chunks, embed, nil))
	return job.ID
}

type recordingMonitor struct {
	mu       sync.Mutex
	query    string
	jobs     []string
	searched map[string]int
	verbatim int
	finished []*core.SearchResult
}

func (m *recordingMonitor) Start(query string, jobIDs []string) {
	m.query = query
	m.jobs = jobIDs
	m.searched = map[string]int{}
}

func (m *recordingMonitor) AfterJobSearch(jobID string, hits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched[jobID] = hits
}

func (m *recordingMonitor) VerbatimHit(*core.SearchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verbatim++
}

func (m *recordingMonitor) Finish(results []*core.SearchResult) {
	m.finished = results
}

func TestNewSearcher(t *testing.T) {
	memory := setupMemory(t)
	provider := newProvider()

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(memory, provider)
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with options", func(t *testing.T) {
		searcher, err := NewSearcher(memory, provider, WithLogger(slog.Default()), WithConcurrency(0))
		require.NoError(t, err)
		assert.Equal(t, 1, searcher.concurrency)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(memory, provider, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, searcher.logger)
	})

	t.Run("nil memory", func(t *testing.T) {
		_, err := NewSearcher(nil, provider)
		assert.Equal(t, ErrMemoryRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewSearcher(memory, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})
}

func TestSearcher_FindSimilarAcrossJobs(t *testing.T) {
	memory := setupMemory(t)
	ctx := context.Background()

	sms := addJob(t, memory, "sms.xml", true,
		"<sms body=\"pick up milk\" />",
		"meeting moved to friday",
	)
	notes := addJob(t, memory, "notes.txt", true,
		"quarterly revenue report",
		"office move planning",
	)
	addJob(t, memory, "raw.txt", false, "meeting moved to friday")

	searcher, err := NewSearcher(memory, newProvider())
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	results, err := searcher.FindSimilarWithMonitor(ctx, "meeting moved to friday", 10, monitor)
	require.NoError(t, err)
	require.Len(t, results, 4, "the unembedded job is not searched")

	assert.ElementsMatch(t, []string{sms, notes}, monitor.jobs)
	assert.Equal(t, map[string]int{sms: 2, notes: 2}, monitor.searched)
	assert.Equal(t, 1, monitor.verbatim)
	assert.Equal(t, results, monitor.finished)

	top := results[0]
	assert.Equal(t, sms, top.Chunk.JobID)
	assert.Equal(t, int64(1), top.Chunk.ID)
	assert.Greater(t, top.Score, float32(1.0), "verbatim match is boosted")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearcher_ExplicitJobsAndLimit(t *testing.T) {
	memory := setupMemory(t)
	ctx := context.Background()

	a := addJob(t, memory, "a.txt", true, "alpha one", "alpha two", "alpha three")
	addJob(t, memory, "b.txt", true, "beta one", "beta two")

	searcher, err := NewSearcher(memory, newProvider())
	require.NoError(t, err)

	results, err := searcher.FindSimilar(ctx, "alpha", 2, a)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, a, r.Chunk.JobID)
	}

	_, err = searcher.FindSimilar(ctx, "alpha", 2, "missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSearcher_NoJobs(t *testing.T) {
	searcher, err := NewSearcher(setupMemory(t), newProvider())
	require.NoError(t, err)

	results, err := searcher.FindSimilar(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestContainsAllQueryWords(t *testing.T) {
	tests := []struct {
		name     string
		document string
		query    string
		want     bool
	}{
		{"all words present", "The meeting moved to Friday", "meeting friday", true},
		{"stop words ignored", "meeting friday", "the meeting on friday", true},
		{"missing word", "meeting friday", "meeting monday", false},
		{"markup does not glue words", `<sms body="pick up milk"/>`, "milk", true},
		{"json punctuation", `{"body":"call mom"}`, "call mom", true},
		{"only stop words", "anything", "the a an", false},
		{"empty query", "anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsAllQueryWords(tt.document, tt.query))
		})
	}
}
