package core

import (
	"encoding/json"
	"strconv"
)

// ChunkKind tags which chunker produced a chunk.
type ChunkKind string

const (
	ChunkKindXML  ChunkKind = "xml"
	ChunkKindJSON ChunkKind = "json"
	ChunkKindText ChunkKind = "text"
)

// ChunkMetadata is a tagged variant. Exactly one of XML, JSON or Text is set,
// matching Kind.
type ChunkMetadata struct {
	Kind       ChunkKind     `json:"kind"`
	LineNumber int           `json:"lineNumber"`
	XML        *XMLMetadata  `json:"xml,omitempty"`
	JSON       *JSONMetadata `json:"json,omitempty"`
	Text       *TextMetadata `json:"text,omitempty"`
}

// XMLMetadata locates an XML chunk within the document tree.
type XMLMetadata struct {
	XPath       string            `json:"xpath"`
	ElementName string            `json:"elementName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// JSONMetadata describes the records held by a JSON chunk.
type JSONMetadata struct {
	Depth       int  `json:"depth"`
	FirstRecord int  `json:"firstRecord"`
	Records     int  `json:"records"`
	Split       bool `json:"split,omitempty"`
}

// TextBreak records where a text chunk was cut.
type TextBreak string

const (
	TextBreakParagraph TextBreak = "paragraph"
	TextBreakSentence  TextBreak = "sentence"
	TextBreakHard      TextBreak = "hard"
	TextBreakEOF       TextBreak = "eof"
)

// TextMetadata describes a text chunk.
type TextMetadata struct {
	Break TextBreak `json:"break"`
}

// Flat metadata keys used by collection backends and search filters.
const (
	MetaJobID      = "job_id"
	MetaChunkID    = "chunk_id"
	MetaOffset     = "offset"
	MetaLength     = "length"
	MetaKind       = "kind"
	MetaLine       = "line"
	MetaXPath      = "xpath"
	MetaElement    = "element"
	MetaAttributes = "attributes"
	MetaDepth      = "depth"
	MetaRecord     = "first_record"
	MetaRecords    = "records"
	MetaSplit      = "split"
	MetaBreak      = "break"
	MetaContentRef = "content_ref"
)

// FlattenChunk renders a chunk's identity and metadata as string pairs.
func FlattenChunk(c *Chunk) map[string]string {
	m := map[string]string{
		MetaJobID:   c.JobID,
		MetaChunkID: strconv.FormatInt(c.ID, 10),
		MetaOffset:  strconv.FormatInt(c.Offset, 10),
		MetaLength:  strconv.Itoa(c.Length),
		MetaKind:    string(c.Metadata.Kind),
		MetaLine:    strconv.Itoa(c.Metadata.LineNumber),
	}
	if c.ContentRef != "" {
		m[MetaContentRef] = string(c.ContentRef)
	}
	switch {
	case c.Metadata.XML != nil:
		m[MetaXPath] = c.Metadata.XML.XPath
		if c.Metadata.XML.ElementName != "" {
			m[MetaElement] = c.Metadata.XML.ElementName
		}
		if len(c.Metadata.XML.Attributes) > 0 {
			if b, err := json.Marshal(c.Metadata.XML.Attributes); err == nil {
				m[MetaAttributes] = string(b)
			}
		}
	case c.Metadata.JSON != nil:
		m[MetaDepth] = strconv.Itoa(c.Metadata.JSON.Depth)
		m[MetaRecord] = strconv.Itoa(c.Metadata.JSON.FirstRecord)
		m[MetaRecords] = strconv.Itoa(c.Metadata.JSON.Records)
		m[MetaSplit] = strconv.FormatBool(c.Metadata.JSON.Split)
	case c.Metadata.Text != nil:
		m[MetaBreak] = string(c.Metadata.Text.Break)
	}
	return m
}

// UnflattenChunk rebuilds a chunk from content and flattened metadata.
// Unparseable numeric fields are left at zero.
func UnflattenChunk(content string, m map[string]string) *Chunk {
	c := &Chunk{
		JobID:      m[MetaJobID],
		Content:    content,
		ContentRef: ContentRef(m[MetaContentRef]),
	}
	c.ID, _ = strconv.ParseInt(m[MetaChunkID], 10, 64)
	c.Offset, _ = strconv.ParseInt(m[MetaOffset], 10, 64)
	c.Length, _ = strconv.Atoi(m[MetaLength])
	c.Metadata.Kind = ChunkKind(m[MetaKind])
	c.Metadata.LineNumber, _ = strconv.Atoi(m[MetaLine])

	switch c.Metadata.Kind {
	case ChunkKindXML:
		x := &XMLMetadata{XPath: m[MetaXPath], ElementName: m[MetaElement]}
		if raw := m[MetaAttributes]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &x.Attributes)
		}
		c.Metadata.XML = x
	case ChunkKindJSON:
		j := &JSONMetadata{}
		j.Depth, _ = strconv.Atoi(m[MetaDepth])
		j.FirstRecord, _ = strconv.Atoi(m[MetaRecord])
		j.Records, _ = strconv.Atoi(m[MetaRecords])
		j.Split, _ = strconv.ParseBool(m[MetaSplit])
		c.Metadata.JSON = j
	case ChunkKindText:
		c.Metadata.Text = &TextMetadata{Break: TextBreak(m[MetaBreak])}
	}
	return c
}

// MatchesFilter reports whether every filter pair is present in the
// chunk's flattened metadata.
func MatchesFilter(c *Chunk, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	flat := FlattenChunk(c)
	for k, v := range filter {
		if flat[k] != v {
			return false
		}
	}
	return true
}
