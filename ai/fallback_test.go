package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/ai/local"
	"github.com/poiesic/chunkstream/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackEmbedder_PrimarySucceeds(t *testing.T) {
	primary := mock.NewMockEmbedder()
	primary.Dims = 8
	f := ai.NewFallbackEmbedder(primary, local.NewEmbedder(8))

	res, err := f.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Len(t, res.Vectors, 2)
	assert.Equal(t, 1, primary.CallCount())
	assert.Zero(t, f.Fallbacks())
}

func TestFallbackEmbedder_RetriesThenFallsBack(t *testing.T) {
	primary := mock.NewMockEmbedder()
	primary.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	fallback := local.NewEmbedder(16)
	f := ai.NewFallbackEmbedder(primary, fallback, ai.WithFallbackRetry(3, time.Millisecond))

	res, err := f.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 3, primary.CallCount())
	assert.Equal(t, int64(1), f.Fallbacks())

	want, err := fallback.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, res.Vectors[0], 1e-6)
}

func TestFallbackEmbedder_RecoversAfterTransientError(t *testing.T) {
	primary := mock.NewMockEmbedder()
	calls := 0
	primary.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return [][]float32{{3, 4}}, nil
	}
	f := ai.NewFallbackEmbedder(primary, local.NewEmbedder(2), ai.WithFallbackRetry(3, time.Millisecond))

	v, err := f.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, v, 1e-6)
	assert.Zero(t, f.Fallbacks())
}

func TestFallbackEmbedder_WrongVectorCountFallsBack(t *testing.T) {
	primary := mock.NewMockEmbedder()
	primary.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}
	f := ai.NewFallbackEmbedder(primary, local.NewEmbedder(4), ai.WithFallbackRetry(1, 0))

	vecs, err := f.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
}

func TestFallbackEmbedder_WrongDimensionsFallBackWithoutRetry(t *testing.T) {
	primary := mock.NewMockEmbedder()
	primary.Dims = 768
	fallback := local.NewEmbedder(384)
	f := ai.NewFallbackEmbedder(primary, fallback, ai.WithFallbackRetry(3, time.Hour))

	res, err := f.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, res.Vectors, 2)
	assert.Len(t, res.Vectors[0], 384)
	assert.Equal(t, 1, primary.CallCount())
	assert.Equal(t, int64(1), f.Fallbacks())
}

func TestFallbackEmbedder_ExplicitDimensions(t *testing.T) {
	tests := []struct {
		name         string
		dims         int
		wantFallback bool
	}{
		{name: "matching", dims: 6},
		{name: "mismatched", dims: 4, wantFallback: true},
		{name: "unchecked", dims: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := mock.NewMockEmbedder()
			primary.Dims = 6
			f := ai.NewFallbackEmbedder(primary, local.NewEmbedder(4),
				ai.WithFallbackRetry(1, 0), ai.WithFallbackDimensions(tt.dims))

			res, err := f.Embed(context.Background(), []string{"text"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFallback, res.Fallback)
		})
	}
}

func TestFallbackEmbedder_LocalOnly(t *testing.T) {
	f := ai.NewFallbackEmbedder(nil, local.NewEmbedder(4))
	res, err := f.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Len(t, res.Vectors[0], 4)
}

func TestFallbackEmbedder_EmptyInput(t *testing.T) {
	f := ai.NewFallbackEmbedder(nil, local.NewEmbedder(4))
	res, err := f.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
}

func TestFallbackEmbedder_CanceledContext(t *testing.T) {
	primary := mock.NewMockEmbedder()
	primary.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("down")
	}
	f := ai.NewFallbackEmbedder(primary, local.NewEmbedder(4), ai.WithFallbackRetry(5, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Embed(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
