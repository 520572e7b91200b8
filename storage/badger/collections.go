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

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/storage"
)

// CollectionBackend implements storage.CollectionBackend on the same
// BadgerDB as the job and checkpoint repositories, which lets CommitBatch
// write all three in one transaction.
type CollectionBackend struct {
	backend *Backend
	logger  *slog.Logger
}

var (
	_ storage.CollectionBackend = (*CollectionBackend)(nil)
	_ storage.BatchCommitter    = (*CollectionBackend)(nil)
)

// NewCollectionBackend creates a new CollectionBackend.
func NewCollectionBackend(backend *Backend) *CollectionBackend {
	return &CollectionBackend{
		backend: backend,
		logger:  slog.Default().With("component", "badger-collections"),
	}
}

func (c *CollectionBackend) CreateCollection(ctx context.Context, name string, metadata map[string]string) error {
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("collection name %q: %w", name, storage.ErrInvalidQuery)
	}
	value, err := storage.MarshalMetadata(metadata)
	if err != nil {
		return err
	}
	return c.backend.update(func(tx *badger.Txn) error {
		found, err := exists(tx, makeCollectionKey(name))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("collection %s: %w", name, storage.ErrDuplicateKey)
		}
		return tx.Set(makeCollectionKey(name), value)
	})
}

// DeleteCollection removes the collection record, then drops its chunks.
func (c *CollectionBackend) DeleteCollection(ctx context.Context, name string) error {
	err := c.backend.update(func(tx *badger.Txn) error {
		return tx.Delete(makeCollectionKey(name))
	})
	if err != nil {
		return err
	}
	return c.backend.dropPrefix(makeChunkPrefix(name))
}

func (c *CollectionBackend) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := c.backend.view(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			names = append(names, strings.TrimPrefix(string(iter.Item().Key()), collectionPrefix))
		}
		return nil
	})
	return names, err
}

// CollectionMetadata returns the metadata a collection was created with.
func (c *CollectionBackend) CollectionMetadata(ctx context.Context, name string) (map[string]string, error) {
	var metadata map[string]string
	err := c.backend.view(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCollectionKey(name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			metadata, err = storage.UnmarshalMetadata(val)
			return err
		})
	})
	return metadata, err
}

func (c *CollectionBackend) AddChunks(ctx context.Context, name string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return c.commit(func(tx *badger.Txn) error {
		return setChunks(tx, name, chunks)
	})
}

// CommitBatch writes chunks into the job's collection, the job record and
// the checkpoint in a single transaction. Either everything is visible
// afterwards or nothing is.
func (c *CollectionBackend) CommitBatch(ctx context.Context, job *core.ProcessingJob, chunks []*core.Chunk, checkpoint *core.Checkpoint) error {
	return c.commit(func(tx *badger.Txn) error {
		found, err := exists(tx, makeJobKey(job.ID))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("job %s: %w", job.ID, storage.ErrNotFound)
		}
		if err := setChunks(tx, job.CollectionName, chunks); err != nil {
			return err
		}
		if err := setJob(tx, job); err != nil {
			return err
		}
		if checkpoint != nil {
			return setCheckpoint(tx, checkpoint)
		}
		return nil
	})
}

func (c *CollectionBackend) commit(fn func(tx *badger.Txn) error) error {
	err := c.backend.update(fn)
	if errors.Is(err, badger.ErrTxnTooBig) {
		c.logger.Error("chunk batch exceeds transaction limit", "err", err)
	}
	return err
}

// GetChunks returns chunks ordered by id. A non-positive limit returns all
// chunks after offset.
func (c *CollectionBackend) GetChunks(ctx context.Context, name string, limit, offset int) ([]*core.Chunk, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset %d: %w", offset, storage.ErrInvalidQuery)
	}
	var chunks []*core.Chunk
	err := c.backend.view(func(tx *badger.Txn) error {
		if err := requireCollection(tx, name); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		skipped := 0
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(chunks) >= limit {
				break
			}
			chunk, err := readChunk(iter.Item())
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

func (c *CollectionBackend) Count(ctx context.Context, name string) (int, error) {
	count := 0
	err := c.backend.view(func(tx *badger.Txn) error {
		if err := requireCollection(tx, name); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(name)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Query scans the collection and ranks embedded chunks by cosine similarity.
func (c *CollectionBackend) Query(ctx context.Context, name string, vector []float32, n int, filter map[string]string) ([]*core.SearchResult, error) {
	if n <= 0 {
		return nil, nil
	}
	var results []*core.SearchResult
	err := c.backend.view(func(tx *badger.Txn) error {
		if err := requireCollection(tx, name); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := readChunk(iter.Item())
			if err != nil {
				return err
			}
			if len(chunk.Embedding) == 0 || !core.MatchesFilter(chunk, filter) {
				continue
			}
			results = append(results, &core.SearchResult{
				Chunk: chunk,
				Score: ai.CosineSimilarity(vector, chunk.Embedding),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Close is a no-op. The Backend owns the database.
func (c *CollectionBackend) Close() error {
	return nil
}

func requireCollection(tx *badger.Txn, name string) error {
	found, err := exists(tx, makeCollectionKey(name))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
	}
	return nil
}

func setChunks(tx *badger.Txn, name string, chunks []*core.Chunk) error {
	if err := requireCollection(tx, name); err != nil {
		return err
	}
	for _, chunk := range chunks {
		value, err := storage.MarshalChunk(chunk)
		if err != nil {
			return err
		}
		if err := tx.Set(makeChunkKey(name, chunk.ID), value); err != nil {
			return err
		}
	}
	return nil
}

func readChunk(item *badger.Item) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
