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

package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/workmem"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// OnlyMissing skips chunks that already have an embedding.
	OnlyMissing bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reembedder regenerates the embeddings of a job's chunks.
type Reembedder struct {
	memory    *workmem.Store
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(memory *workmem.Store, embedder ai.Embedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}

	return &Reembedder{
		memory:    memory,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(memory, embedder, config.MaxRetries, config.RetryDelay, config.OnlyMissing),
	}
}

// Run re-embeds every chunk of jobID and returns how many chunks were
// written. Jobs that are pending or processing are refused.
func (r *Reembedder) Run(ctx context.Context, jobID string) (int, error) {
	job, err := r.memory.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status == core.JobStatusPending || job.Status == core.JobStatusProcessing {
		return 0, fmt.Errorf("job %s: %w", jobID, ErrJobBusy)
	}

	total, err := r.memory.GetChunkCount(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found for job %s (0 chunks)\n", jobID)
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n",
		total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	seen, written := 0, 0
	err = NewChunkIterator(r.memory, jobID, r.config.BatchSize).ForEach(ctx, func(chunks []*core.Chunk) error {
		n, err := r.processor.Process(ctx, jobID, chunks)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		seen += len(chunks)
		written += n
		tracker.Update(seen)
		return nil
	})
	if err != nil {
		return written, err
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Embedded %d of %d chunks in %v (%.1f chunks/sec)\n",
		written, total, elapsed.Round(time.Millisecond), float64(written)/elapsed.Seconds())

	return written, nil
}
