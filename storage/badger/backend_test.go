package badger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/chunkstream/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "missing directories are created")
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenBackend(file, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestStores_ClosedReturnsErrStorageClosed(t *testing.T) {
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	ctx := context.Background()
	_, err = stores.Jobs.GetJob(ctx, "any")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	err = stores.Jobs.CreateJob(ctx, newJob("late", time.Now()))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = stores.Checkpoints.LoadCheckpoint(ctx, "any")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestStores_CloseTwice(t *testing.T) {
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	require.NoError(t, stores.Close())
	require.NoError(t, stores.Close())
}

func TestChunkKeysSortByID(t *testing.T) {
	ids := []int64{0, 1, 2, 255, 256, 1 << 20, 1 << 40}
	for i := 1; i < len(ids); i++ {
		prev := makeChunkKey("wm_a", ids[i-1])
		cur := makeChunkKey("wm_a", ids[i])
		assert.Equal(t, -1, bytes.Compare(prev, cur), "key for %d sorts before %d", ids[i-1], ids[i])
		assert.True(t, bytes.HasPrefix(cur, makeChunkPrefix("wm_a")))
	}
	assert.False(t, bytes.HasPrefix(makeChunkKey("wm_ab", 1), makeChunkPrefix("wm_a")))
}
