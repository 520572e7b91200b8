package workmem

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/poiesic/chunkstream/core"
)

// ExportFormat selects the encoding used by ExportCollection.
type ExportFormat string

const (
	FormatJSON  ExportFormat = "json"
	FormatJSONL ExportFormat = "jsonl"
	FormatCSV   ExportFormat = "csv"
)

// exportPageSize bounds how many chunks are held in memory during export.
const exportPageSize = 1000

var csvHeader = []string{"id", "offset", "length", "line", "kind", "xpath", "content"}

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case FormatJSON, FormatJSONL, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// MimeType returns the content type of an export in this format.
func (f ExportFormat) MimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	}
	return "application/octet-stream"
}

// ExportCollection writes every chunk of a job to w in id order.
//
//   - json: a single array of chunks
//   - jsonl: one chunk object per line
//   - csv: the columns id,offset,length,line,kind,xpath,content
func (s *Store) ExportCollection(ctx context.Context, jobID string, format ExportFormat, w io.Writer) error {
	if _, err := ParseExportFormat(string(format)); err != nil {
		return err
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var enc chunkEncoder
	switch format {
	case FormatJSON:
		enc = &jsonArrayEncoder{w: bw}
	case FormatJSONL:
		enc = &jsonLinesEncoder{enc: json.NewEncoder(bw)}
	case FormatCSV:
		enc = &csvEncoder{w: csv.NewWriter(bw)}
	}

	if err := enc.begin(); err != nil {
		return err
	}
	for offset := 0; ; offset += exportPageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.backend.GetChunks(ctx, job.CollectionName, exportPageSize, offset)
		if err != nil {
			return collectionError(jobID, err)
		}
		for _, chunk := range page {
			if err := enc.encode(chunk); err != nil {
				return err
			}
		}
		if len(page) < exportPageSize {
			break
		}
	}
	if err := enc.end(); err != nil {
		return err
	}
	return bw.Flush()
}

// ObjectWriter stores a stream as a content-addressed object.
type ObjectWriter interface {
	PutReader(ctx context.Context, r io.Reader, mime string) (*core.StoredObject, error)
}

// ExportToStore exports a job's chunks into store and returns the stored
// object, which can then be read back a page at a time.
func (s *Store) ExportToStore(ctx context.Context, jobID string, format ExportFormat, store ObjectWriter) (*core.StoredObject, error) {
	if _, err := ParseExportFormat(string(format)); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.ExportCollection(ctx, jobID, format, pw))
	}()

	obj, err := store.PutReader(ctx, pr, format.MimeType())
	pr.CloseWithError(err)
	if err != nil {
		return nil, fmt.Errorf("export job %s: %w", jobID, err)
	}
	return obj, nil
}

type chunkEncoder interface {
	begin() error
	encode(*core.Chunk) error
	end() error
}

type jsonArrayEncoder struct {
	w *bufio.Writer
	n int
}

func (e *jsonArrayEncoder) begin() error {
	return e.w.WriteByte('[')
}

func (e *jsonArrayEncoder) encode(c *core.Chunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if e.n > 0 {
		if err := e.w.WriteByte(','); err != nil {
			return err
		}
	}
	e.n++
	_, err = e.w.Write(b)
	return err
}

func (e *jsonArrayEncoder) end() error {
	_, err := e.w.WriteString("]\n")
	return err
}

type jsonLinesEncoder struct {
	enc *json.Encoder
}

func (e *jsonLinesEncoder) begin() error { return nil }

func (e *jsonLinesEncoder) encode(c *core.Chunk) error {
	return e.enc.Encode(c)
}

func (e *jsonLinesEncoder) end() error { return nil }

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) begin() error {
	return e.w.Write(csvHeader)
}

func (e *csvEncoder) encode(c *core.Chunk) error {
	var xpath string
	if c.Metadata.XML != nil {
		xpath = c.Metadata.XML.XPath
	}
	return e.w.Write([]string{
		strconv.FormatInt(c.ID, 10),
		strconv.FormatInt(c.Offset, 10),
		strconv.Itoa(c.Length),
		strconv.Itoa(c.Metadata.LineNumber),
		string(c.Metadata.Kind),
		xpath,
		c.Content,
	})
}

func (e *csvEncoder) end() error {
	e.w.Flush()
	return e.w.Error()
}
