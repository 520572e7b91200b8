package chromem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
)

// metaEmbedded marks documents whose vector came from an embedding provider.
// Other documents carry a local vector only because chromem requires one.
const metaEmbedded = "embedded"

// Backend implements storage.CollectionBackend on a chromem-go database.
// Every document in a Backend has a vector of exactly dims floats.
type Backend struct {
	db          *chromem.DB
	indexer     ai.Embedder
	dims        int
	concurrency int
	logger      *slog.Logger

	mu sync.Mutex
}

var _ storage.CollectionBackend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithConcurrency sets how many documents are added in parallel.
func WithConcurrency(n int) Option {
	return func(b *Backend) {
		b.concurrency = n
	}
}

// New opens a chromem database. An empty path keeps everything in memory;
// otherwise collections persist as gob files under path. indexer produces
// the vectors for chunks stored without an embedding and must return dims
// floats.
func New(path string, indexer ai.Embedder, dims int, opts ...Option) (*Backend, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
		}
	}

	b := &Backend{
		db:          db,
		indexer:     indexer,
		dims:        dims,
		concurrency: runtime.NumCPU(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "chromem")
	return b, nil
}

func (b *Backend) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return b.indexer.EmbedText(ctx, text)
	}
}

func (b *Backend) collection(name string) (*chromem.Collection, error) {
	col := b.db.GetCollection(name, b.embedFunc())
	if col == nil {
		return nil, fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
	}
	return col, nil
}

func (b *Backend) CreateCollection(ctx context.Context, name string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db.GetCollection(name, b.embedFunc()) != nil {
		return fmt.Errorf("collection %s: %w", name, storage.ErrDuplicateKey)
	}
	_, err := b.db.CreateCollection(name, metadata, b.embedFunc())
	return err
}

func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.DeleteCollection(name)
}

func (b *Backend) ListCollections(ctx context.Context) ([]string, error) {
	return slices.Sorted(maps.Keys(b.db.ListCollections())), nil
}

// AddChunks indexes a batch. Chunks without an embedding get a local vector
// and are flagged so Query never returns them.
func (b *Backend) AddChunks(ctx context.Context, name string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	col, err := b.collection(name)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	var missing []int
	for i, chunk := range chunks {
		meta := core.FlattenChunk(chunk)
		meta[metaEmbedded] = "true"
		switch {
		case len(chunk.Embedding) == 0:
			meta[metaEmbedded] = "false"
			missing = append(missing, i)
		case len(chunk.Embedding) != b.dims:
			return fmt.Errorf("chunk %d: %w: got %d, collection holds %d",
				chunk.ID, ai.ErrDimensionMismatch, len(chunk.Embedding), b.dims)
		}
		docs[i] = chromem.Document{
			ID:        strconv.FormatInt(chunk.ID, 10),
			Metadata:  meta,
			Embedding: chunk.Embedding,
			Content:   chunk.Content,
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = chunks[i].Content
		}
		vectors, err := b.indexer.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("index chunks: %w", err)
		}
		for j, i := range missing {
			docs[i].Embedding = indexVector(vectors[j], b.dims)
		}
	}

	return col.AddDocuments(ctx, docs, max(b.concurrency, 1))
}

// indexVector substitutes a fixed unit vector for zero or malformed vectors,
// which chromem cannot normalize.
func indexVector(v []float32, dims int) []float32 {
	if len(v) == dims {
		for _, x := range v {
			if x != 0 {
				return v
			}
		}
	}
	unit := make([]float32, dims)
	unit[0] = 1
	return unit
}

// GetChunks returns chunks ordered by id. A non-positive limit returns all
// chunks after offset.
func (b *Backend) GetChunks(ctx context.Context, name string, limit, offset int) ([]*core.Chunk, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset %d: %w", offset, storage.ErrInvalidQuery)
	}
	col, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	all, err := b.scan(ctx, col)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// scan returns every chunk of a collection sorted by id. chromem has no
// iteration API, so this queries for all documents.
func (b *Backend) scan(ctx context.Context, col *chromem.Collection) ([]*core.Chunk, error) {
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	anchor := make([]float32, b.dims)
	anchor[0] = 1
	results, err := col.QueryEmbedding(ctx, anchor, n, nil, nil)
	if err != nil {
		return nil, err
	}
	chunks := make([]*core.Chunk, len(results))
	for i, r := range results {
		chunks[i] = toChunk(r)
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return chunks, nil
}

func (b *Backend) Count(ctx context.Context, name string) (int, error) {
	col, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (b *Backend) Query(ctx context.Context, name string, vector []float32, n int, filter map[string]string) ([]*core.SearchResult, error) {
	if n <= 0 {
		return nil, nil
	}
	col, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	if len(vector) != b.dims {
		return nil, fmt.Errorf("query: %w: got %d, collection holds %d", ai.ErrDimensionMismatch, len(vector), b.dims)
	}

	where := maps.Clone(filter)
	if where == nil {
		where = make(map[string]string, 1)
	}
	where[metaEmbedded] = "true"

	results, err := col.QueryEmbedding(ctx, vector, min(n, total), where, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*core.SearchResult, len(results))
	for i, r := range results {
		out[i] = &core.SearchResult{Chunk: toChunk(r), Score: r.Similarity}
	}
	return out, nil
}

// Export writes a gzip-compressed gob snapshot of the named collections, or
// of every collection when names is empty.
func (b *Backend) Export(w io.Writer, names ...string) error {
	return b.db.ExportToWriter(w, true, "", names...)
}

// Import loads collections from a snapshot written by Export.
func (b *Backend) Import(r io.ReadSeeker, names ...string) error {
	return b.db.ImportFromReader(r, "", names...)
}

// Close is a no-op. Persistent collections are written on every add.
func (b *Backend) Close() error {
	return nil
}

func toChunk(r chromem.Result) *core.Chunk {
	chunk := core.UnflattenChunk(r.Content, r.Metadata)
	if r.Metadata[metaEmbedded] == "true" {
		chunk.Embedding = r.Embedding
	}
	return chunk
}
