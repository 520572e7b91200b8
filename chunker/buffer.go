package chunker

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/poiesic/chunkstream/core"
)

// Checkpoint is the serializable parse state of a chunker right after it
// emitted a segment.
//
// Position is the absolute count of consumed source bytes. BufferStart is the
// absolute offset of the pending buffer, which holds the source bytes
// [BufferStart, Position). Carried of those bytes were already emitted as
// overlap.
type Checkpoint struct {
	Kind        core.FileType `json:"kind"`
	Position    int64         `json:"position"`
	BufferStart int64         `json:"bufferStart"`
	Line        int           `json:"line"`
	BufferLine  int           `json:"bufferLine"`
	Carried     int           `json:"carried"`
	XML         *XMLState     `json:"xml,omitempty"`
	JSON        *JSONState    `json:"json,omitempty"`
}

// buffer is the state shared by every chunker: pending input, the chunk
// being assembled, and position bookkeeping.
//
// Invariant: start + len(data) == pos.
type buffer struct {
	opts Options

	in     []byte
	inPos  int
	closed bool
	done   bool

	data    []byte
	start   int64
	pos     int64
	line    int
	bufLine int
	carried int
}

func newBuffer(opts Options) buffer {
	return buffer{
		opts:    opts,
		start:   opts.BaseOffset,
		pos:     opts.BaseOffset,
		line:    1,
		bufLine: 1,
	}
}

func (b *buffer) Feed(p []byte) {
	if b.inPos > 0 {
		n := copy(b.in, b.in[b.inPos:])
		b.in = b.in[:n]
		b.inPos = 0
	}
	b.in = append(b.in, p...)
}

func (b *buffer) Close() {
	b.closed = true
}

func (b *buffer) pending() bool {
	return b.inPos < len(b.in)
}

func (b *buffer) peek() byte {
	return b.in[b.inPos]
}

// consume moves the next input byte into the chunk buffer.
func (b *buffer) consume() byte {
	c := b.in[b.inPos]
	b.inPos++
	b.data = append(b.data, c)
	b.pos++
	if c == '\n' {
		b.line++
	}
	return c
}

// skip drops the next input byte. Only valid while the chunk buffer is empty.
func (b *buffer) skip() {
	if b.in[b.inPos] == '\n' {
		b.line++
		b.bufLine++
	}
	b.inPos++
	b.pos++
	b.start++
}

// cut emits data[:n] and keeps data[n-keep:] as the start of the next chunk.
func (b *buffer) cut(n, keep int, meta core.ChunkMetadata) Segment {
	meta.LineNumber = b.bufLine
	seg := Segment{
		Content:  string(b.data[:n]),
		Offset:   b.start,
		Length:   n,
		Metadata: meta,
	}

	drop := n - keep
	b.bufLine += bytes.Count(b.data[:drop], []byte{'\n'})
	b.start += int64(drop)
	b.data = append(b.data[:0], b.data[drop:]...)
	b.carried = keep
	return seg
}

// discard drops the whole buffer without emitting it.
func (b *buffer) discard() {
	b.bufLine = b.line
	b.start = b.pos
	b.data = b.data[:0]
	b.carried = 0
}

// fresh returns the part of the buffer not yet emitted as overlap.
func (b *buffer) fresh() []byte {
	return b.data[b.carried:]
}

func (b *buffer) checkpoint(kind core.FileType) Checkpoint {
	return Checkpoint{
		Kind:        kind,
		Position:    b.pos,
		BufferStart: b.start,
		Line:        b.line,
		BufferLine:  b.bufLine,
		Carried:     b.carried,
	}
}

func (b *buffer) restore(cp Checkpoint, prefix []byte) error {
	if cp.Carried < 0 || cp.Carried > len(prefix) {
		return fmt.Errorf("%w: carried %d outside buffer of %d", ErrCheckpointMismatch, cp.Carried, len(prefix))
	}
	b.data = append(b.data[:0], prefix...)
	b.start = cp.BufferStart
	b.pos = cp.Position
	b.line = cp.Line
	b.bufLine = cp.BufferLine
	b.carried = cp.Carried
	return nil
}

// runeCut returns the largest cut point <= n that does not split a UTF-8
// sequence in data[:n]. It returns n when no rune start is found nearby.
func runeCut(data []byte, n int) int {
	r := n - 1
	for r > 0 && n-r < utf8.UTFMax && !utf8.RuneStart(data[r]) {
		r--
	}
	if r > 0 && !utf8.FullRune(data[r:n]) {
		return r
	}
	return n
}

// runeStartAfter returns the first rune start at or after i.
func runeStartAfter(data []byte, i int) int {
	for i < len(data) && !utf8.RuneStart(data[i]) {
		i++
	}
	return i
}

func isBlank(p []byte) bool {
	return len(bytes.TrimSpace(p)) == 0
}
