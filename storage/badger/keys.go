package badger

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types
const (
	jobPrefix        = "job:"
	collectionPrefix = "col:"
	chunkPrefix      = "chk:"
)

// makeJobKey generates a key for a job record.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

// makeCheckpointKey generates a key for a job's checkpoint.
func makeCheckpointKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:chkpt", jobID))
}

// makeCollectionKey generates a key for collection metadata.
func makeCollectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

// makeChunkPrefix generates the key prefix shared by every chunk of a collection.
// Format: prefix:name:
func makeChunkPrefix(name string) []byte {
	return []byte(chunkPrefix + name + ":")
}

// makeChunkKey generates a key for a chunk.
// Format: prefix:name:id, with id in BigEndian so keys sort by id.
func makeChunkKey(name string, id int64) []byte {
	prefix := makeChunkPrefix(name)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}
