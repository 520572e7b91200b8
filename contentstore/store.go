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

package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/poiesic/chunkstream/core"
)

const (
	// DefaultMaxObjectSize caps a single object at 100 MiB.
	DefaultMaxObjectSize int64 = 100 << 20

	// DefaultPageSize is used by GetPage when pageSize <= 0.
	DefaultPageSize = 4096

	previewChars   = 200
	objectsDir     = "objects"
	indexFile      = "index.json"
	defaultMime    = "application/octet-stream"
	shardPrefixLen = 2
)

// Store is a content-addressed blob store on the local filesystem.
//
// Objects live at <base>/objects/<hash[0:2]>/<hash>. The hash index is kept
// in memory and mirrored to <base>/index.json after every successful mutation.
// All mutations are serialized; the index file is never rewritten after a
// failed write.
type Store struct {
	basePath string
	maxSize  int64
	logger   *slog.Logger

	mu    sync.RWMutex
	index map[string]*core.StoredObject
}

// Option configures a Store.
type Option func(*Store) error

// WithMaxObjectSize sets the per-object size cap.
func WithMaxObjectSize(n int64) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("max object size must be positive, got %d", n)
		}
		s.maxSize = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "contentstore")
		return nil
	}
}

// New opens (or creates) a store rooted at basePath and loads its index.
func New(basePath string, opts ...Option) (*Store, error) {
	s := &Store{
		basePath: basePath,
		maxSize:  DefaultMaxObjectSize,
		logger:   slog.Default().With("component", "contentstore"),
		index:    make(map[string]*core.StoredObject),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Join(basePath, objectsDir), 0o755); err != nil {
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	s.logger.Debug("content store opened", "path", basePath, "objects", len(s.index))
	return s, nil
}

// Put stores content and returns its record. Identical content is stored once.
func (s *Store) Put(ctx context.Context, content []byte, mime string) (*core.StoredObject, error) {
	if int64(len(content)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", core.ErrSizeExceeded, len(content), s.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[hash]; ok {
		return cloneObject(existing), nil
	}

	if err := s.writeObject(hash, bytes.NewReader(content)); err != nil {
		return nil, err
	}
	obj := newObject(hash, int64(len(content)), mime, content)
	return s.commit(obj)
}

// PutReader streams r into the store without buffering it in memory.
// The content is hashed while it is spooled to a temporary file.
func (s *Store) PutReader(ctx context.Context, r io.Reader, mime string) (*core.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.basePath, objectsDir), ".spool-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	head := &prefixWriter{limit: previewChars * utf8.UTFMax}
	n, err := io.Copy(io.MultiWriter(tmp, h, head), io.LimitReader(r, s.maxSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	if n > s.maxSize {
		return nil, fmt.Errorf("%w: stream exceeds limit of %d", core.ErrSizeExceeded, s.maxSize)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[hash]; ok {
		return cloneObject(existing), nil
	}

	path := s.objectPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, err
	}
	obj := newObject(hash, n, mime, head.buf)
	return s.commit(obj)
}

// Get returns the full content of ref.
func (s *Store) Get(ctx context.Context, ref core.ContentRef) ([]byte, error) {
	hash, obj, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("indexed object missing on disk", "ref", obj.Ref)
			return nil, fmt.Errorf("%w: %s", core.ErrContentNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}

// GetString returns the content of ref decoded as UTF-8.
func (s *Store) GetString(ctx context.Context, ref core.ContentRef) (string, error) {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetPage returns one page of ref's bytes. Pages are 1-based and clamped to
// [1, totalPages]. An empty object has a single empty page.
func (s *Store) GetPage(ctx context.Context, ref core.ContentRef, page, pageSize int) (*core.PageResult, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	hash, obj, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}

	totalPages := int((obj.Size + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	page = min(max(page, 1), totalPages)

	start := int64(page-1) * int64(pageSize)
	end := min(start+int64(pageSize), obj.Size)

	f, err := os.Open(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrContentNotFound, ref)
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return &core.PageResult{
		Content:    buf,
		Page:       page,
		TotalPages: totalPages,
		PageSize:   pageSize,
		TotalSize:  obj.Size,
		HasMore:    page < totalPages,
	}, nil
}

// GetMeta returns the index record for ref.
func (s *Store) GetMeta(ctx context.Context, ref core.ContentRef) (*core.StoredObject, error) {
	_, obj, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Has reports whether ref is indexed. Malformed refs are never present.
func (s *Store) Has(ctx context.Context, ref core.ContentRef) bool {
	_, _, err := s.lookup(ref)
	return err == nil
}

// Delete removes ref's object and index entry. It returns false if ref was
// not present.
func (s *Store) Delete(ctx context.Context, ref core.ContentRef) (bool, error) {
	hash, err := core.ParseContentRef(ref)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.index[hash]
	if !ok {
		return false, nil
	}
	if err := os.Remove(s.objectPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	delete(s.index, hash)
	if err := s.writeIndex(); err != nil {
		// The blob is gone either way; keep memory consistent with disk.
		return true, err
	}
	s.logger.Debug("object deleted", "ref", obj.Ref)
	return true, nil
}

// List returns every stored object ordered by creation time, then hash.
func (s *Store) List(ctx context.Context) []*core.StoredObject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.StoredObject, 0, len(s.index))
	for _, obj := range s.index {
		out = append(out, cloneObject(obj))
	}
	slices.SortFunc(out, func(a, b *core.StoredObject) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	return out
}

// TotalSize returns the sum of all object sizes.
func (s *Store) TotalSize(ctx context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, obj := range s.index {
		total += obj.Size
	}
	return total
}

// Verify re-hashes ref's object and reports a mismatch with the index.
func (s *Store) Verify(ctx context.Context, ref core.ContentRef) error {
	hash, _, err := s.lookup(ref)
	if err != nil {
		return err
	}
	f, err := os.Open(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", core.ErrContentNotFound, ref)
		}
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != hash {
		return fmt.Errorf("%w: %s", ErrCorruptObject, ref)
	}
	return nil
}

func (s *Store) lookup(ref core.ContentRef) (string, *core.StoredObject, error) {
	hash, err := core.ParseContentRef(ref)
	if err != nil {
		return "", nil, err
	}
	s.mu.RLock()
	obj, ok := s.index[hash]
	s.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", core.ErrContentNotFound, ref)
	}
	return hash, cloneObject(obj), nil
}

// commit records obj and persists the index. Caller holds s.mu.
func (s *Store) commit(obj *core.StoredObject) (*core.StoredObject, error) {
	s.index[obj.Hash] = obj
	if err := s.writeIndex(); err != nil {
		delete(s.index, obj.Hash)
		return nil, err
	}
	s.logger.Debug("object stored", "ref", obj.Ref, "size", obj.Size)
	return cloneObject(obj), nil
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.basePath, objectsDir, hash[:shardPrefixLen], hash)
}

func (s *Store) writeObject(hash string, r io.Reader) error {
	path := s.objectPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

func newObject(hash string, size int64, mime string, head []byte) *core.StoredObject {
	if mime == "" {
		mime = defaultMime
	}
	obj := &core.StoredObject{
		Ref:       core.RefFromHash(hash),
		Hash:      hash,
		Size:      size,
		MimeType:  mime,
		CreatedAt: time.Now().UTC(),
	}
	if previewable(mime) {
		obj.Preview = preview(head)
	}
	return obj
}

func previewable(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	return strings.HasPrefix(base, "text/") || base == "application/json" || strings.HasSuffix(base, "+json")
}

// preview returns the first previewChars runes of b.
func preview(b []byte) string {
	n := 0
	for i := range string(b) {
		if n == previewChars {
			return strings.ToValidUTF8(string(b[:i]), "")
		}
		n++
	}
	return strings.ToValidUTF8(string(b), "")
}

func cloneObject(o *core.StoredObject) *core.StoredObject {
	c := *o
	return &c
}

// prefixWriter keeps the first limit bytes written to it.
type prefixWriter struct {
	limit int
	buf   []byte
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if room := p.limit - len(p.buf); room > 0 {
		p.buf = append(p.buf, b[:min(room, len(b))]...)
	}
	return len(b), nil
}
