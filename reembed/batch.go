package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
)

// ChunkWriter stores re-embedded chunks under their existing ids.
type ChunkWriter interface {
	UpdateEmbeddings(ctx context.Context, jobID string, chunks []*core.Chunk, added int64) error
}

// BatchProcessor embeds one batch of chunks and writes it back.
type BatchProcessor struct {
	writer         ChunkWriter
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	onlyMissing    bool
}

func NewBatchProcessor(writer ChunkWriter, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, onlyMissing bool) *BatchProcessor {
	return &BatchProcessor{
		writer:         writer,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		onlyMissing:    onlyMissing,
	}
}

// Process embeds the chunks of one batch and returns how many were written.
// With onlyMissing set, chunks that already carry an embedding are skipped.
func (bp *BatchProcessor) Process(ctx context.Context, jobID string, chunks []*core.Chunk) (int, error) {
	todo := chunks
	if bp.onlyMissing {
		todo = make([]*core.Chunk, 0, len(chunks))
		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				todo = append(todo, c)
			}
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	texts := make([]string, len(todo))
	var added int64
	for i, c := range todo {
		texts[i] = c.Content
		if len(c.Embedding) == 0 {
			added++
		}
	}

	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(todo) {
		return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(todo), len(embeddings))
	}

	for i, c := range todo {
		c.Embedding = ai.NormalizeVector(embeddings[i])
	}

	if err := bp.writer.UpdateEmbeddings(ctx, jobID, todo, added); err != nil {
		return 0, fmt.Errorf("failed to update chunks: %w", err)
	}
	return len(todo), nil
}
