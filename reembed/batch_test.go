package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	// Default: return unnormalized vectors for each text
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0} // magnitude = 3.0
	}
	return result, nil
}

type recordingWriter struct {
	chunks []*core.Chunk
	added  int64
	err    error
}

func (w *recordingWriter) UpdateEmbeddings(_ context.Context, _ string, chunks []*core.Chunk, added int64) error {
	if w.err != nil {
		return w.err
	}
	w.chunks = append(w.chunks, chunks...)
	w.added += added
	return nil
}

func TestBatchProcessor_Process(t *testing.T) {
	writer := &recordingWriter{}
	bp := NewBatchProcessor(writer, &mockEmbedder{}, 3, time.Millisecond, false)

	chunks := makeChunks(3)
	chunks[1].Embedding = []float32{0, 0, 1}

	n, err := bp.Process(context.Background(), "job", chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(2), writer.added, "only previously empty chunks count as added")
	require.Len(t, writer.chunks, 3)
	for _, c := range writer.chunks {
		assert.InDeltaSlice(t, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3}, c.Embedding, 1e-6)
	}
}

func TestBatchProcessor_OnlyMissing(t *testing.T) {
	writer := &recordingWriter{}
	bp := NewBatchProcessor(writer, &mockEmbedder{}, 3, time.Millisecond, true)

	chunks := makeChunks(3)
	chunks[0].Embedding = []float32{0, 0, 1}

	n, err := bp.Process(context.Background(), "job", chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), writer.added)
	assert.Equal(t, []float32{0, 0, 1}, chunks[0].Embedding)

	chunks[1].Embedding = []float32{1, 0, 0}
	chunks[2].Embedding = []float32{1, 0, 0}
	n, err = bp.Process(context.Background(), "job", chunks)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBatchProcessor_Retries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		embedder := &mockEmbedder{embedTextsFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("temporary")
			}
			return [][]float32{{3, 4}}, nil
		}}
		writer := &recordingWriter{}
		bp := NewBatchProcessor(writer, embedder, 3, time.Millisecond, false)

		n, err := bp.Process(context.Background(), "job", makeChunks(1))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 3, attempts)
		assert.InDeltaSlice(t, []float32{0.6, 0.8}, writer.chunks[0].Embedding, 1e-6)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
			attempts++
			return nil, errors.New("down")
		}}
		writer := &recordingWriter{}
		bp := NewBatchProcessor(writer, embedder, 2, time.Millisecond, false)

		_, err := bp.Process(context.Background(), "job", makeChunks(2))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, 2, attempts)
		assert.Empty(t, writer.chunks)
	})
}

func TestBatchProcessor_Errors(t *testing.T) {
	t.Run("count mismatch", func(t *testing.T) {
		embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}}
		bp := NewBatchProcessor(&recordingWriter{}, embedder, 1, time.Millisecond, false)
		_, err := bp.Process(context.Background(), "job", makeChunks(2))
		assert.ErrorContains(t, err, "embedding count mismatch")
	})

	t.Run("writer failure", func(t *testing.T) {
		boom := errors.New("disk full")
		bp := NewBatchProcessor(&recordingWriter{err: boom}, &mockEmbedder{}, 1, time.Millisecond, false)
		_, err := bp.Process(context.Background(), "job", makeChunks(2))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty batch", func(t *testing.T) {
		writer := &recordingWriter{}
		bp := NewBatchProcessor(writer, &mockEmbedder{}, 1, time.Millisecond, false)
		n, err := bp.Process(context.Background(), "job", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
