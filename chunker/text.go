package chunker

import (
	"bytes"

	"github.com/poiesic/chunkstream/core"
)

var (
	paragraphBreak = []byte("\n\n")
	sentenceBreak  = []byte(". ")
)

// textChunker fills a window of ChunkSize bytes and cuts it at the last
// paragraph break, else the last sentence break, found in the back half of
// the window; otherwise it hard-cuts at ChunkSize. The next chunk begins
// OverlapSize bytes before the cut.
type textChunker struct {
	buffer
}

func newTextChunker(opts Options) *textChunker {
	return &textChunker{buffer: newBuffer(opts)}
}

func (t *textChunker) Next() (Segment, bool) {
	size := t.opts.ChunkSize
	for {
		if need := size - len(t.data); need > 0 && t.pending() {
			avail := min(need, len(t.in)-t.inPos)
			chunk := t.in[t.inPos : t.inPos+avail]
			t.data = append(t.data, chunk...)
			t.line += bytes.Count(chunk, []byte{'\n'})
			t.inPos += avail
			t.pos += int64(avail)
		}
		if len(t.data) >= size {
			return t.split(), true
		}
		if t.pending() {
			continue
		}
		if t.closed && !t.done {
			t.done = true
			if len(t.fresh()) > 0 {
				seg := t.cut(len(t.data), 0, textMeta(core.TextBreakEOF))
				seg.Checkpoint = t.checkpoint(core.FileTypeText)
				return seg, true
			}
		}
		return Segment{}, false
	}
}

func (t *textChunker) split() Segment {
	size := t.opts.ChunkSize
	window := t.data[:size]
	half := size / 2

	brk, kind := 0, core.TextBreakHard
	if i := bytes.LastIndex(window, paragraphBreak); i >= half {
		brk, kind = i+len(paragraphBreak), core.TextBreakParagraph
	} else if i := bytes.LastIndex(window, sentenceBreak); i >= half {
		brk, kind = i+len(sentenceBreak), core.TextBreakSentence
	} else {
		brk = runeCut(t.data, size)
	}

	keep := 0
	if ov := t.opts.OverlapSize; ov > 0 && brk > ov {
		keep = brk - runeStartAfter(t.data, brk-ov)
	}
	seg := t.cut(brk, keep, textMeta(kind))
	seg.Checkpoint = t.checkpoint(core.FileTypeText)
	return seg
}

func (t *textChunker) restore(cp Checkpoint, prefix []byte) error {
	return t.buffer.restore(cp, prefix)
}

func textMeta(kind core.TextBreak) core.ChunkMetadata {
	return core.ChunkMetadata{
		Kind: core.ChunkKindText,
		Text: &core.TextMetadata{Break: kind},
	}
}
