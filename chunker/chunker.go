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

package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/poiesic/chunkstream/core"
)

const (
	// DefaultChunkSize is the target chunk size in bytes.
	DefaultChunkSize = 4096

	// DefaultOverlapSize is the overlap used by callers that do not pick one.
	DefaultOverlapSize = 200

	// DefaultReadSize is the block size Stream reads from its source.
	DefaultReadSize = 64 * 1024

	maxChunkFactor = 4
)

// Chunker is an incremental, forward-only chunking state machine.
//
// Callers Feed input, then call Next until it reports false before feeding
// more. After Close, Next drains whatever remains in the buffer.
type Chunker interface {
	// Feed appends input bytes. The chunker copies p.
	Feed(p []byte)

	// Close marks the end of input.
	Close()

	// Next advances the state machine until a segment is ready or the
	// buffered input is exhausted.
	Next() (Segment, bool)
}

// Segment is one emitted chunk. Offset is the absolute byte position of
// Content's first byte in the source.
type Segment struct {
	Content    string
	Offset     int64
	Length     int
	Metadata   core.ChunkMetadata
	Checkpoint Checkpoint
}

// Options controls chunk sizing.
type Options struct {
	ChunkSize    int
	OverlapSize  int
	MaxChunkSize int

	// BaseOffset is the absolute source offset of the first fed byte.
	BaseOffset int64
}

// DefaultOptions returns the package defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		OverlapSize:  DefaultOverlapSize,
		MaxChunkSize: DefaultChunkSize * maxChunkFactor,
	}
}

// normalize fills zero sizes with defaults.
func (o Options) normalize() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = o.ChunkSize * maxChunkFactor
	}
	return o
}

// Validate checks that the options allow every chunker to make progress.
// OverlapSize must be zero or less than half of ChunkSize.
func (o Options) Validate() error {
	o = o.normalize()
	switch {
	case o.ChunkSize < 0:
		return fmt.Errorf("%w: chunk size %d", core.ErrInvalidChunkingOptions, o.ChunkSize)
	case o.OverlapSize < 0:
		return fmt.Errorf("%w: overlap size %d", core.ErrInvalidChunkingOptions, o.OverlapSize)
	case o.OverlapSize > 0 && o.OverlapSize*2 >= o.ChunkSize:
		return fmt.Errorf("%w: overlap %d must be under half of chunk size %d",
			core.ErrInvalidChunkingOptions, o.OverlapSize, o.ChunkSize)
	case o.MaxChunkSize < o.ChunkSize:
		return fmt.Errorf("%w: max chunk size %d below chunk size %d",
			core.ErrInvalidChunkingOptions, o.MaxChunkSize, o.ChunkSize)
	case o.BaseOffset < 0:
		return fmt.Errorf("%w: base offset %d", core.ErrInvalidChunkingOptions, o.BaseOffset)
	}
	return nil
}

// New returns a chunker for the given file type.
func New(ft core.FileType, opts Options) (Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.normalize()
	switch ft {
	case core.FileTypeXML:
		return newXMLChunker(opts), nil
	case core.FileTypeJSON:
		return newJSONChunker(opts), nil
	case core.FileTypeText:
		return newTextChunker(opts), nil
	}
	return nil, fmt.Errorf("unsupported file type %q", ft)
}

// ForPath returns a chunker chosen by the extension of path.
func ForPath(path string, opts Options) (Chunker, error) {
	return New(core.DetectFileType(path), opts)
}

// ErrCheckpointMismatch indicates a checkpoint that cannot seed the requested chunker.
var ErrCheckpointMismatch = errors.New("checkpoint does not match chunker")

// Resume rebuilds a chunker from a checkpoint. prefix must hold the source
// bytes in [cp.BufferStart, cp.Position); they are restored into the buffer
// without being parsed again.
func Resume(ft core.FileType, opts Options, cp Checkpoint, prefix []byte) (Chunker, error) {
	if cp.Kind != ft {
		return nil, fmt.Errorf("%w: checkpoint kind %q, want %q", ErrCheckpointMismatch, cp.Kind, ft)
	}
	if int64(len(prefix)) != cp.Position-cp.BufferStart {
		return nil, fmt.Errorf("%w: prefix is %d bytes, want %d",
			ErrCheckpointMismatch, len(prefix), cp.Position-cp.BufferStart)
	}
	opts.BaseOffset = cp.BufferStart
	c, err := New(ft, opts)
	if err != nil {
		return nil, err
	}
	if err := c.(restorer).restore(cp, prefix); err != nil {
		return nil, err
	}
	return c, nil
}

type restorer interface {
	restore(cp Checkpoint, prefix []byte) error
}

// Stream reads r in readSize blocks, drives c, and yields segments lazily.
// The sequence is single-use and ends at EOF or on the first error.
func Stream(ctx context.Context, r io.Reader, c Chunker, readSize int) iter.Seq2[Segment, error] {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return func(yield func(Segment, error) bool) {
		drain := func() bool {
			for {
				seg, ok := c.Next()
				if !ok {
					return true
				}
				if !yield(seg, nil) {
					return false
				}
			}
		}

		block := make([]byte, readSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(Segment{}, err)
				return
			}
			n, err := r.Read(block)
			if n > 0 {
				c.Feed(block[:n])
				if !drain() {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				c.Close()
				drain()
				return
			}
			if err != nil {
				yield(Segment{}, err)
				return
			}
		}
	}
}
