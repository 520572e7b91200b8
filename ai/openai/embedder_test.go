package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/ai/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// newEmbeddingServer answers /v1/embeddings with [len(text), index+1, 0].
func newEmbeddingServer(t *testing.T, model *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		model.Store(req.Model)

		data := make([]embeddingData, len(req.Input))
		for i, in := range req.Input {
			data[i] = embeddingData{Object: "embedding", Embedding: []float32{float32(len(in)), float32(i + 1), 0}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	var model atomic.Value
	srv := newEmbeddingServer(t, &model)

	e, err := NewEmbedder(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithEmbeddingModel("all-minilm"), ai.WithDimensions(3)))
	require.NoError(t, err)

	vecs, err := e.EmbedTexts(context.Background(), []string{"abc", "hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1, 0}, {5, 2, 0}}, vecs)

	vec, err := e.EmbedText(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, vec)

	assert.Equal(t, "all-minilm", model.Load())
}

func TestNewEmbedder_RequiresHost(t *testing.T) {
	_, err := NewEmbedder(ai.DefaultConfig())
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestProvider_NormalizesRemoteVectors(t *testing.T) {
	var model atomic.Value
	srv := newEmbeddingServer(t, &model)

	p, err := NewProvider(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(3)))
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.Embedder().EmbedText(context.Background(), "abcd")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{4 / float32(4.1231055), 1 / float32(4.1231055), 0}, vec, 1e-5)
}

func TestEmbedder_RejectsWrongDimensions(t *testing.T) {
	var model atomic.Value
	srv := newEmbeddingServer(t, &model)

	e, err := NewEmbedder(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(8)))
	require.NoError(t, err)

	_, err = e.EmbedTexts(context.Background(), []string{"abc"})
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)

	_, err = e.EmbedText(context.Background(), "abc")
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)
}

func TestProvider_WrongDimensionsFallBackWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	var model atomic.Value
	inner := newEmbeddingServer(t, &model)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cfg := ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(16), ai.WithRetry(3, time.Millisecond))
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	vecs, err := p.Embedder().EmbedTexts(context.Background(), []string{"abc", "hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 16)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(1), p.(*Provider).embedder.Fallbacks())
}

func TestProvider_FallsBackToLocal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithRetry(2, time.Millisecond))
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	texts := []string{"first chunk", "second chunk"}
	vecs, err := p.Embedder().EmbedTexts(context.Background(), texts)
	require.NoError(t, err)

	want, err := local.NewEmbedder(cfg.Dimensions).EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(want))
	for i := range want {
		assert.InDeltaSlice(t, want[i], vecs[i], 1e-6)
	}
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
	assert.Equal(t, int64(1), p.(*Provider).embedder.Fallbacks())
}
