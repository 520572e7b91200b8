package contentstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/chunkstream/core"
)

// ErrCorruptObject indicates an object whose bytes no longer match its hash.
var ErrCorruptObject = errors.New("stored object does not match its hash")

// indexEntry is one [hash, object] pair of the on-disk index array.
type indexEntry struct {
	Hash   string
	Object *core.StoredObject
}

func (e indexEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Hash, e.Object})
}

func (e *indexEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("index entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Hash); err != nil {
		return err
	}
	e.Object = &core.StoredObject{}
	return json.Unmarshal(pair[1], e.Object)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.basePath, indexFile)
}

// loadIndex replaces the in-memory index with the contents of index.json.
// A missing file is an empty store.
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("load content index: %w", err)
	}
	for _, e := range entries {
		if _, err := core.ParseContentRef(core.RefFromHash(e.Hash)); err != nil {
			return fmt.Errorf("load content index: %w", err)
		}
		s.index[e.Hash] = e.Object
	}
	return nil
}

// writeIndex rewrites index.json atomically. Caller holds s.mu.
func (s *Store) writeIndex() error {
	entries := make([]indexEntry, 0, len(s.index))
	for hash, obj := range s.index {
		entries = append(entries, indexEntry{Hash: hash, Object: obj})
	}
	slices.SortFunc(entries, func(a, b indexEntry) int {
		return strings.Compare(a.Hash, b.Hash)
	})

	return writeFileAtomic(s.indexPath(), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(entries)
	})
}

// writeFileAtomic writes to a temporary file in the target directory and
// renames it into place once fully synced.
func writeFileAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		cleanup()
		return err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
