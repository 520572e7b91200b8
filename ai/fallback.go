package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Embeddings is the result of a FallbackEmbedder call.
type Embeddings struct {
	Vectors [][]float32

	// Fallback is true when the vectors came from the fallback embedder.
	Fallback bool
}

// FallbackEmbedder calls a primary embedder with retries and downgrades to a
// fallback embedder when the primary keeps failing. With a nil primary every
// call goes straight to the fallback. All returned vectors are unit length.
type FallbackEmbedder struct {
	primary     Embedder
	fallback    Embedder
	maxAttempts int
	baseDelay   time.Duration
	dims        int

	fallbacks atomic.Int64
	warn      rate.Sometimes
	logger    *slog.Logger
}

// FallbackOption configures a FallbackEmbedder.
type FallbackOption func(*FallbackEmbedder)

// WithFallbackRetry sets how many times the primary is tried per call.
func WithFallbackRetry(maxAttempts int, baseDelay time.Duration) FallbackOption {
	return func(f *FallbackEmbedder) {
		f.maxAttempts = maxAttempts
		f.baseDelay = baseDelay
	}
}

// WithFallbackDimensions sets the vector length the primary must return.
// Zero disables the check. The default is the fallback's Dimensions(), when
// it has one.
func WithFallbackDimensions(dims int) FallbackOption {
	return func(f *FallbackEmbedder) {
		f.dims = dims
	}
}

// WithFallbackLogger sets the logger used for downgrade warnings.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *FallbackEmbedder) {
		f.logger = logger
	}
}

// NewFallbackEmbedder wraps primary and fallback. fallback must not be nil.
func NewFallbackEmbedder(primary, fallback Embedder, opts ...FallbackOption) *FallbackEmbedder {
	f := &FallbackEmbedder{
		primary:     primary,
		fallback:    fallback,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
		warn:        rate.Sometimes{Interval: time.Minute},
		logger:      slog.Default(),
	}
	if d, ok := fallback.(interface{ Dimensions() int }); ok {
		f.dims = d.Dimensions()
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxAttempts < 1 {
		f.maxAttempts = 1
	}
	f.logger = f.logger.With("component", "fallback-embedder")
	return f
}

// Embed embeds texts and reports which embedder produced the vectors.
func (f *FallbackEmbedder) Embed(ctx context.Context, texts []string) (Embeddings, error) {
	if len(texts) == 0 {
		return Embeddings{}, nil
	}

	if f.primary != nil {
		var vectors [][]float32
		err := RetryWithBackoff(ctx, func() error {
			v, err := f.primary.EmbedTexts(ctx, texts)
			if errors.Is(err, ErrDimensionMismatch) {
				return Permanent(err)
			}
			if err != nil {
				return err
			}
			if len(v) != len(texts) {
				return fmt.Errorf("%w: got %d vectors for %d texts", ErrDimensionMismatch, len(v), len(texts))
			}
			if f.dims > 0 {
				for i, vec := range v {
					if len(vec) != f.dims {
						return Permanent(fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(vec), f.dims))
					}
				}
			}
			vectors = v
			return nil
		}, f.maxAttempts, f.baseDelay)
		if err == nil {
			return Embeddings{Vectors: normalizeAll(vectors)}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Embeddings{}, ctxErr
		}
		f.fallbacks.Add(1)
		f.warn.Do(func() {
			f.logger.Warn("embedding provider unavailable, using local embeddings", "err", err)
		})
	}

	vectors, err := f.fallback.EmbedTexts(ctx, texts)
	if err != nil {
		return Embeddings{}, err
	}
	return Embeddings{Vectors: normalizeAll(vectors), Fallback: f.primary != nil}, nil
}

// EmbedText implements Embedder.
func (f *FallbackEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	res, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// EmbedTexts implements Embedder.
func (f *FallbackEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := f.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return res.Vectors, nil
}

// Fallbacks returns how many calls were served by the fallback after the
// primary failed.
func (f *FallbackEmbedder) Fallbacks() int64 {
	return f.fallbacks.Load()
}

func normalizeAll(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = NormalizeVector(v)
	}
	return out
}
