package chunker

import (
	"unicode/utf8"

	"github.com/poiesic/chunkstream/core"
)

// JSONState is the persisted part of the JSON chunker's parse state.
type JSONState struct {
	Depth          int  `json:"depth"`
	InString       bool `json:"inString,omitempty"`
	EscapeNext     bool `json:"escapeNext,omitempty"`
	SkipSeparators bool `json:"skipSeparators,omitempty"`
	TopIsArray     bool `json:"topIsArray,omitempty"`
	Records        int  `json:"records"`
}

// jsonChunker tracks bracket depth with a string/escape automaton so that
// brackets inside string literals are ignored. A chunk is emitted when a
// record closes at depth <= 1, or a newline arrives at depth 0, once the
// buffer reaches ChunkSize. Records are kept whole; OverlapSize is ignored.
type jsonChunker struct {
	buffer
	JSONState

	firstRecord int
}

func newJSONChunker(opts Options) *jsonChunker {
	return &jsonChunker{buffer: newBuffer(opts)}
}

func (j *jsonChunker) Next() (Segment, bool) {
	for j.pending() {
		c := j.peek()

		if j.SkipSeparators && len(j.data) == 0 && !j.InString && j.Depth <= 1 && isSeparator(c) {
			j.skip()
			continue
		}
		j.SkipSeparators = false

		if len(j.data) >= j.opts.MaxChunkSize && utf8.RuneStart(c) {
			return j.emit(true), true
		}
		j.consume()

		if j.EscapeNext {
			j.EscapeNext = false
			continue
		}
		if j.InString {
			switch c {
			case '\\':
				j.EscapeNext = true
			case '"':
				j.InString = false
			}
			continue
		}

		switch c {
		case '"':
			j.InString = true
		case '{', '[':
			if j.Depth == 0 && c == '[' {
				j.TopIsArray = true
			} else if j.Depth == 0 {
				j.TopIsArray = false
			}
			j.Depth++
		case '}', ']':
			if j.Depth > 0 {
				j.Depth--
			}
			record := (j.Depth == 1 && j.TopIsArray) || (j.Depth == 0 && !j.TopIsArray)
			if record {
				j.Records++
			}
			if (record || j.Depth == 0) && len(j.data) >= j.opts.ChunkSize {
				return j.emit(false), true
			}
		case '\n':
			if j.Depth == 0 && len(j.data) >= j.opts.ChunkSize {
				return j.emit(false), true
			}
		}
	}

	if j.closed && !j.done {
		j.done = true
		if !isBlank(j.fresh()) {
			return j.emit(false), true
		}
	}
	return Segment{}, false
}

func (j *jsonChunker) emit(split bool) Segment {
	meta := core.ChunkMetadata{
		Kind: core.ChunkKindJSON,
		JSON: &core.JSONMetadata{
			Depth:       j.Depth,
			FirstRecord: j.firstRecord,
			Records:     j.Records - j.firstRecord,
			Split:       split,
		},
	}
	seg := j.cut(len(j.data), 0, meta)
	j.firstRecord = j.Records
	j.SkipSeparators = !split
	seg.Checkpoint = j.checkpoint()
	return seg
}

func (j *jsonChunker) checkpoint() Checkpoint {
	cp := j.buffer.checkpoint(core.FileTypeJSON)
	state := j.JSONState
	cp.JSON = &state
	return cp
}

func (j *jsonChunker) restore(cp Checkpoint, prefix []byte) error {
	if err := j.buffer.restore(cp, prefix); err != nil {
		return err
	}
	if cp.JSON != nil {
		j.JSONState = *cp.JSON
		j.firstRecord = cp.JSON.Records
	}
	return nil
}

func isSeparator(c byte) bool {
	switch c {
	case ',', ' ', '\t', '\r', '\n':
		return true
	}
	return false
}
