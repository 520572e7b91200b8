package chunker

import (
	"bytes"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/chunkstream/core"
)

// maxXMLDepth bounds the tag-path stack. Deeper opening tags are counted
// but not recorded.
const maxXMLDepth = 1024

type xmlScan int

const (
	xmlText xmlScan = iota
	xmlTag
	xmlQuoted
)

var (
	commentOpen  = []byte("!--")
	commentClose = []byte("--")
	cdataOpen    = []byte("![CDATA[")
	cdataClose   = []byte("]]")
)

// XMLState is the persisted part of the XML chunker's parse state.
type XMLState struct {
	Stack      []string          `json:"stack"`
	Overflow   int               `json:"overflow,omitempty"`
	Element    string            `json:"element,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// xmlChunker tracks the open-element path and never cuts inside a tag.
// A chunk is emitted just before a '<' once the buffer reaches ChunkSize,
// or at a rune boundary in text content once it reaches MaxChunkSize.
type xmlChunker struct {
	buffer

	scan     xmlScan
	quote    byte
	tagStart int

	stack    []string
	overflow int
	element  string
	attrs    map[string]string
}

func newXMLChunker(opts Options) *xmlChunker {
	return &xmlChunker{buffer: newBuffer(opts)}
}

func (x *xmlChunker) Next() (Segment, bool) {
	for x.pending() {
		c := x.peek()
		switch x.scan {
		case xmlText:
			if c == '<' {
				if len(x.data) >= x.opts.ChunkSize {
					if seg, ok := x.emit(); ok {
						return seg, true
					}
				}
				x.tagStart = len(x.data)
				x.scan = xmlTag
				x.consume()
				continue
			}
			if len(x.data) >= x.opts.MaxChunkSize && utf8.RuneStart(c) {
				if seg, ok := x.emit(); ok {
					return seg, true
				}
			}
			x.consume()

		case xmlTag:
			x.consume()
			body := x.data[x.tagStart+1:]
			switch c {
			case '"', '\'':
				if !bytes.HasPrefix(body, commentOpen) && !bytes.HasPrefix(body, cdataOpen) {
					x.scan = xmlQuoted
					x.quote = c
				}
			case '>':
				tag := body[:len(body)-1]
				if tagComplete(tag) {
					x.handleTag(tag)
					x.scan = xmlText
				}
			}

		case xmlQuoted:
			if x.consume() == x.quote {
				x.scan = xmlTag
			}
		}
	}

	if x.closed && !x.done {
		x.done = true
		if !isBlank(x.fresh()) {
			seg := x.cut(len(x.data), 0, x.meta())
			seg.Checkpoint = x.checkpoint()
			return seg, true
		}
	}
	return Segment{}, false
}

// emit cuts the whole buffer. A blank buffer is dropped instead and emit
// reports false.
func (x *xmlChunker) emit() (Segment, bool) {
	if isBlank(x.fresh()) {
		if len(x.data) >= x.opts.MaxChunkSize {
			x.discard()
		}
		return Segment{}, false
	}
	n := len(x.data)
	seg := x.cut(n, x.overlapKeep(n), x.meta())
	seg.Checkpoint = x.checkpoint()
	return seg, true
}

// overlapKeep trims the overlap tail forward to its first '<' so the next
// chunk never starts inside a tag.
func (x *xmlChunker) overlapKeep(n int) int {
	ov := x.opts.OverlapSize
	if ov <= 0 || ov >= n {
		return 0
	}
	tail := x.data[n-ov : n]
	i := bytes.IndexByte(tail, '<')
	if i < 0 {
		return 0
	}
	return ov - i
}

func (x *xmlChunker) meta() core.ChunkMetadata {
	return core.ChunkMetadata{
		Kind: core.ChunkKindXML,
		XML: &core.XMLMetadata{
			XPath:       strings.Join(x.stack, "/"),
			ElementName: x.element,
			Attributes:  maps.Clone(x.attrs),
		},
	}
}

func (x *xmlChunker) handleTag(tag []byte) {
	if len(tag) == 0 {
		return
	}
	switch tag[0] {
	case '?', '!':
		return
	case '/':
		name := string(bytes.TrimSpace(tag[1:]))
		if x.overflow > 0 {
			x.overflow--
			return
		}
		for i := len(x.stack) - 1; i >= 0; i-- {
			if x.stack[i] == name {
				x.stack = x.stack[:i]
				return
			}
		}
		return
	}

	selfClosing := tag[len(tag)-1] == '/'
	if selfClosing {
		tag = tag[:len(tag)-1]
	}
	end := bytes.IndexAny(tag, " \t\r\n")
	if end < 0 {
		end = len(tag)
	}
	name := string(tag[:end])
	if name == "" {
		return
	}
	x.element = name
	x.attrs = parseAttributes(tag[end:])

	if selfClosing {
		return
	}
	if len(x.stack) >= maxXMLDepth {
		x.overflow++
		return
	}
	x.stack = append(x.stack, name)
}

func (x *xmlChunker) checkpoint() Checkpoint {
	cp := x.buffer.checkpoint(core.FileTypeXML)
	cp.XML = &XMLState{
		Stack:      append([]string(nil), x.stack...),
		Overflow:   x.overflow,
		Element:    x.element,
		Attributes: maps.Clone(x.attrs),
	}
	return cp
}

func (x *xmlChunker) restore(cp Checkpoint, prefix []byte) error {
	if err := x.buffer.restore(cp, prefix); err != nil {
		return err
	}
	if cp.XML != nil {
		x.stack = append([]string(nil), cp.XML.Stack...)
		x.overflow = cp.XML.Overflow
		x.element = cp.XML.Element
		x.attrs = maps.Clone(cp.XML.Attributes)
	}
	x.scan = xmlText
	return nil
}

// tagComplete reports whether a '>' really ends the tag body. Comments and
// CDATA sections may contain '>' before their terminators.
func tagComplete(body []byte) bool {
	switch {
	case bytes.HasPrefix(body, commentOpen):
		return len(body) >= len(commentOpen)+len(commentClose) && bytes.HasSuffix(body, commentClose)
	case bytes.HasPrefix(body, cdataOpen):
		return len(body) >= len(cdataOpen)+len(cdataClose) && bytes.HasSuffix(body, cdataClose)
	}
	return true
}

// parseAttributes scans name="value" and name='value' pairs.
func parseAttributes(s []byte) map[string]string {
	var attrs map[string]string
	for {
		eq := bytes.IndexByte(s, '=')
		if eq < 0 {
			return attrs
		}
		name := string(bytes.TrimSpace(s[:eq]))
		if sp := strings.LastIndexAny(name, " \t\r\n"); sp >= 0 {
			name = name[sp+1:]
		}
		rest := bytes.TrimLeft(s[eq+1:], " \t\r\n")
		if len(rest) == 0 || (rest[0] != '"' && rest[0] != '\'') {
			s = rest
			continue
		}
		q := rest[0]
		end := bytes.IndexByte(rest[1:], q)
		if end < 0 {
			return attrs
		}
		if name != "" {
			if attrs == nil {
				attrs = make(map[string]string)
			}
			attrs[name] = string(rest[1 : 1+end])
		}
		s = rest[end+2:]
	}
}
