package chromem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/ai/local"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 3

func newTestBackend(t *testing.T, path string) *Backend {
	t.Helper()
	b, err := New(path, local.NewEmbedder(testDims), testDims, WithConcurrency(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func smsChunk(id int64, embedding []float32) *core.Chunk {
	return &core.Chunk{
		ID:      id,
		JobID:   "j1",
		Content: fmt.Sprintf("<sms body=\"message %d\"/>", id),
		Offset:  id * 50,
		Length:  50,
		Metadata: core.ChunkMetadata{
			Kind:       core.ChunkKindXML,
			LineNumber: int(id) + 2,
			XML: &core.XMLMetadata{
				XPath:       "smses",
				ElementName: "sms",
				Attributes:  map[string]string{"body": fmt.Sprintf("message %d", id)},
			},
		},
		Embedding: embedding,
	}
}

func TestBackend_Lifecycle(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	require.NoError(t, b.CreateCollection(ctx, "wm_b", map[string]string{"jobId": "b"}))
	require.NoError(t, b.CreateCollection(ctx, "wm_a", map[string]string{"jobId": "a"}))
	assert.ErrorIs(t, b.CreateCollection(ctx, "wm_a", nil), storage.ErrDuplicateKey)

	names, err := b.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wm_a", "wm_b"}, names)

	require.NoError(t, b.AddChunks(ctx, "wm_a", nil))
	require.NoError(t, b.AddChunks(ctx, "wm_a", []*core.Chunk{smsChunk(0, nil), smsChunk(1, nil)}))
	n, err := b.Count(ctx, "wm_a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, b.DeleteCollection(ctx, "wm_a"))
	_, err = b.Count(ctx, "wm_a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, b.AddChunks(ctx, "wm_a", []*core.Chunk{smsChunk(0, nil)}), storage.ErrNotFound)

	require.NoError(t, b.DeleteCollection(ctx, "wm_missing"))
}

func TestBackend_GetChunksOrderedById(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, "wm_p", nil))

	var batch []*core.Chunk
	for i := int64(24); i >= 0; i-- {
		batch = append(batch, smsChunk(i, nil))
	}
	require.NoError(t, b.AddChunks(ctx, "wm_p", batch))

	tests := []struct {
		name          string
		limit, offset int
		wantFirst     int64
		wantLen       int
	}{
		{"all", 0, 0, 0, 25},
		{"first page", 10, 0, 0, 10},
		{"last partial page", 10, 20, 20, 5},
		{"past end", 10, 25, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.GetChunks(ctx, "wm_p", tt.limit, tt.offset)
			require.NoError(t, err)
			require.Len(t, got, tt.wantLen)
			for i, c := range got {
				assert.Equal(t, tt.wantFirst+int64(i), c.ID)
			}
		})
	}

	_, err := b.GetChunks(ctx, "wm_p", 10, -1)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestBackend_MetadataRoundTrip(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, "wm_m", nil))

	want := smsChunk(7, nil)
	want.ContentRef = core.RefFromHash("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	require.NoError(t, b.AddChunks(ctx, "wm_m", []*core.Chunk{want}))

	got, err := b.GetChunks(ctx, "wm_m", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0], "chunks stored without an embedding come back without one")
}

func TestBackend_QuerySkipsUnembeddedChunks(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, "wm_q", nil))

	mms := smsChunk(3, []float32{0, 0, 1})
	mms.Metadata.XML.ElementName = "mms"
	require.NoError(t, b.AddChunks(ctx, "wm_q", []*core.Chunk{
		smsChunk(0, []float32{1, 0, 0}),
		smsChunk(1, []float32{0.8, 0.6, 0}),
		smsChunk(2, nil),
		mms,
	}))

	results, err := b.Query(ctx, "wm_q", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(0), results[0].Chunk.ID)
	assert.Equal(t, int64(1), results[1].Chunk.ID)
	assert.Equal(t, int64(3), results[2].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.InDelta(t, 0.8, results[1].Score, 1e-5)
	assert.NotEmpty(t, results[0].Chunk.Embedding)

	results, err = b.Query(ctx, "wm_q", []float32{1, 0, 0}, 10, map[string]string{core.MetaElement: "mms"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(3), results[0].Chunk.ID)

	results, err = b.Query(ctx, "wm_q", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = b.Query(ctx, "wm_q", []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = b.Query(ctx, "wm_q", []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)
}

func TestBackend_RejectsWrongDimensions(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, "wm_d", nil))

	err := b.AddChunks(ctx, "wm_d", []*core.Chunk{smsChunk(0, []float32{1, 0})})
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)
}

func TestBackend_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := newTestBackend(t, dir)
	require.NoError(t, b.CreateCollection(ctx, "wm_p", map[string]string{"jobId": "p"}))
	require.NoError(t, b.AddChunks(ctx, "wm_p", []*core.Chunk{smsChunk(0, []float32{1, 0, 0}), smsChunk(1, nil)}))

	reopened := newTestBackend(t, dir)
	names, err := reopened.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wm_p"}, names)

	got, err := reopened.GetChunks(ctx, "wm_p", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "<sms body=\"message 1\"/>", got[1].Content)
}

func TestBackend_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestBackend(t, "")
	require.NoError(t, src.CreateCollection(ctx, "wm_x", nil))
	require.NoError(t, src.CreateCollection(ctx, "wm_y", nil))
	require.NoError(t, src.AddChunks(ctx, "wm_x", []*core.Chunk{smsChunk(0, []float32{0, 1, 0})}))

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf, "wm_x"))

	dst := newTestBackend(t, "")
	require.NoError(t, dst.Import(bytes.NewReader(buf.Bytes())))

	names, err := dst.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wm_x"}, names)

	results, err := dst.Query(ctx, "wm_x", []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(0), results[0].Chunk.ID)
}
