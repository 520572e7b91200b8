// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunkstream wires the chunkers, working memory, content store and
// embedding provider into one engine.
package chunkstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/ai/local"
	"github.com/poiesic/chunkstream/ai/openai"
	"github.com/poiesic/chunkstream/config"
	"github.com/poiesic/chunkstream/contentstore"
	"github.com/poiesic/chunkstream/ingestion"
	"github.com/poiesic/chunkstream/reembed"
	"github.com/poiesic/chunkstream/search"
	"github.com/poiesic/chunkstream/storage"
	"github.com/poiesic/chunkstream/storage/badger"
	"github.com/poiesic/chunkstream/storage/chromem"
	"github.com/poiesic/chunkstream/watch"
	"github.com/poiesic/chunkstream/workmem"
)

// ErrSnapshotUnsupported is returned by Snapshot when the vector backend
// cannot write snapshots.
var ErrSnapshotUnsupported = errors.New("vector backend does not support snapshots")

type Engine struct {
	config    *config.Config
	stores    *badger.Stores
	vectors   storage.CollectionBackend
	provider  ai.AIProvider
	content   *contentstore.Store
	memory    *workmem.Store
	processor *ingestion.Processor
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger   *slog.Logger
	embedder ai.Embedder
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(embedder ai.Embedder) EngineOption {
	return func(o *engineOptions) {
		o.embedder = embedder
	}
}

// Open builds an Engine from cfg. Data lives under cfg.DataDir: the badger
// database in db/, chromem collections in vectors/ and content objects in
// cfg.ContentPath().
func Open(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &Engine{config: cfg, logger: options.logger}

	if options.embedder == nil {
		aiCfg := cfg.AIConfig()
		if err := aiCfg.Validate(); err != nil {
			return nil, err
		}
		if aiCfg.Remote() {
			provider, err := openai.NewProvider(aiCfg)
			if err != nil {
				return nil, err
			}
			e.provider = provider
		} else {
			e.provider = local.NewProvider(aiCfg)
		}
	} else {
		e.provider = staticProvider{options.embedder}
	}

	stores, err := badger.Open(filepath.Join(cfg.DataDir, "db"), false)
	if err != nil {
		e.provider.Close()
		return nil, err
	}
	e.stores = stores

	switch cfg.VectorBackend {
	case config.BackendChromem:
		vectors, err := chromem.New(filepath.Join(cfg.DataDir, "vectors"), e.provider.Embedder(), cfg.Dimensions,
			chromem.WithLogger(e.logger))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.vectors = vectors
	default:
		e.vectors = stores.Collections
	}

	content, err := contentstore.New(cfg.ContentPath(),
		contentstore.WithMaxObjectSize(cfg.MaxObjectSize),
		contentstore.WithLogger(e.logger))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.content = content

	e.memory = workmem.New(stores.Jobs, stores.Checkpoints, e.vectors, e.provider.Embedder(),
		workmem.WithLogger(e.logger))

	procOpts := []ingestion.Option{
		ingestion.WithLogger(e.logger),
		ingestion.WithBatchSize(cfg.BatchSize),
		ingestion.WithContentStore(content),
	}
	if cfg.PoolSize > 0 {
		procOpts = append(procOpts, ingestion.WithPoolSize(cfg.PoolSize))
	}
	processor, err := ingestion.NewProcessor(e.memory, procOpts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.processor = processor

	return e, nil
}

// Close releases everything the engine opened. It is safe on a partially
// opened engine.
func (e *Engine) Close() error {
	var errs []error
	if e.processor != nil {
		e.processor.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if c, ok := e.vectors.(*chromem.Backend); ok {
		if err := c.Close(); err != nil {
			e.logger.Error("error closing vector backend", "err", err)
			errs = append(errs, err)
		}
	}
	if e.stores != nil {
		if err := e.stores.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Memory() *workmem.Store {
	return e.memory
}

func (e *Engine) Processor() *ingestion.Processor {
	return e.processor
}

func (e *Engine) Content() *contentstore.Store {
	return e.content
}

func (e *Engine) Embedder() ai.Embedder {
	return e.provider.Embedder()
}

// IngestOptions returns per-file options built from the configuration.
func (e *Engine) IngestOptions() ingestion.Options {
	return ingestion.Options{
		ChunkSize:          e.config.ChunkSize,
		OverlapSize:        e.config.OverlapSize,
		MaxChunkSize:       e.config.MaxChunkSize,
		GenerateEmbeddings: e.config.EmbeddingEnabled,
	}
}

// NewSearcher returns a cross-job searcher using the engine's embedder.
func (e *Engine) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(e.memory, e.provider, append([]search.Option{search.WithLogger(e.logger)}, opts...)...)
}

// NewReembedder returns a reembedder that writes progress to progress.
func (e *Engine) NewReembedder(config *reembed.Config, progress io.Writer) *reembed.Reembedder {
	return reembed.NewReembedder(e.memory, e.provider.Embedder(), config, progress)
}

// NewInboxWatcher watches cfg.InboxDir and ingests every file that settles
// there with the configured options.
func (e *Engine) NewInboxWatcher(opts ...watch.Option) (*watch.Watcher, error) {
	if e.config.InboxDir == "" {
		return nil, errors.New("no inbox directory configured")
	}
	if err := os.MkdirAll(e.config.InboxDir, 0o755); err != nil {
		return nil, err
	}
	ingest := func(ctx context.Context, path string) error {
		res, err := e.processor.ProcessFile(ctx, path, e.IngestOptions())
		if err != nil {
			return err
		}
		e.logger.Info("ingested file", "path", path, "job", res.JobID, "chunks", res.ChunksCreated)
		return nil
	}
	return watch.New(e.config.InboxDir, ingest, append([]watch.Option{watch.WithLogger(e.logger)}, opts...)...)
}

// Snapshot writes a compressed copy of the given jobs' collections to w, or of
// every collection when no job ids are given. Only the chromem backend
// supports snapshots.
func (e *Engine) Snapshot(ctx context.Context, w io.Writer, jobIDs ...string) error {
	backend, ok := e.vectors.(*chromem.Backend)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotUnsupported, e.config.VectorBackend)
	}
	names := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := e.memory.GetJob(ctx, id)
		if err != nil {
			return err
		}
		names = append(names, job.CollectionName)
	}
	return backend.Export(w, names...)
}

// staticProvider adapts a caller-supplied embedder.
type staticProvider struct {
	embedder ai.Embedder
}

func (p staticProvider) Embedder() ai.Embedder { return p.embedder }

func (p staticProvider) Close() error { return nil }
