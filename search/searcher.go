package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/workmem"
	"golang.org/x/sync/errgroup"
)

// VerbatimBoost is added to the score of chunks containing every
// significant query word.
const VerbatimBoost = 0.3

// Searcher searches chunks across jobs.
type Searcher struct {
	memory      *workmem.Store
	embedder    ai.Embedder
	concurrency int
	logger      *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithConcurrency sets how many job collections are queried at once.
// Default is 4.
func WithConcurrency(n int) Option {
	return func(s *Searcher) error {
		s.concurrency = max(n, 1)
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(memory *workmem.Store, provider ai.AIProvider, opts ...Option) (*Searcher, error) {
	if memory == nil {
		return nil, ErrMemoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		memory:      memory,
		embedder:    provider.Embedder(),
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")
	return s, nil
}

// FindSimilar searches the given jobs, or every job with embeddings when
// none are given, and returns up to maxHits results ranked by score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int, jobIDs ...string) ([]*core.SearchResult, error) {
	return s.FindSimilarWithMonitor(ctx, query, maxHits, nil, jobIDs...)
}

// FindSimilarWithMonitor is FindSimilar with stage callbacks.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, maxHits int, monitor SearchMonitor, jobIDs ...string) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if maxHits <= 0 {
		maxHits = workmem.DefaultSearchLimit
	}

	explicit := len(jobIDs) > 0
	if !explicit {
		var err error
		if jobIDs, err = s.searchableJobs(ctx); err != nil {
			return nil, err
		}
	}
	monitor.Start(query, jobIDs)
	if len(jobIDs) == 0 {
		monitor.Finish(nil)
		return []*core.SearchResult{}, nil
	}

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []*core.SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, jobID := range jobIDs {
		g.Go(func() error {
			hits, err := s.memory.SearchVector(gctx, jobID, embedding, maxHits, nil)
			if err != nil {
				// A job deleted since it was listed is not an error.
				if !explicit && errors.Is(err, core.ErrJobNotFound) {
					s.logger.Debug("job vanished during search", "job", jobID)
					return nil
				}
				return err
			}
			for _, hit := range hits {
				if containsAllQueryWords(hit.Chunk.Content, query) {
					hit.Score += VerbatimBoost
					monitor.VerbatimHit(hit)
				}
			}
			monitor.AfterJobSearch(jobID, len(hits))

			mu.Lock()
			results = append(results, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("error querying job collections", "err", err)
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.JobID, b.Chunk.JobID); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)
	return results, nil
}

// searchableJobs lists jobs that have at least one embedded chunk.
func (s *Searcher) searchableJobs(ctx context.Context) ([]string, error) {
	jobs, err := s.memory.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, j := range jobs {
		if j.Progress.EmbeddingsGenerated > 0 {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}
