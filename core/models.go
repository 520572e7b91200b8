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

package core

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// ContentRef is a content address of the form "sha256:<hex>".
type ContentRef string

// RefPrefix is the scheme prefix of every ContentRef.
const RefPrefix = "sha256:"

// RefFromHash builds a ContentRef from a lowercase hex SHA-256 digest.
func RefFromHash(hash string) ContentRef {
	return ContentRef(RefPrefix + hash)
}

// String returns the ref as a plain string.
func (r ContentRef) String() string {
	return string(r)
}

// StoredObject describes a blob held by the content store.
type StoredObject struct {
	Ref       ContentRef `json:"ref"`
	Hash      string     `json:"hash"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mimeType"`
	CreatedAt time.Time  `json:"createdAt"`
	Preview   string     `json:"preview,omitempty"`
}

// PageResult is a single page of a stored object.
type PageResult struct {
	Content    []byte `json:"content"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	PageSize   int    `json:"pageSize"`
	TotalSize  int64  `json:"totalSize"`
	HasMore    bool   `json:"hasMore"`
}

// FileType selects the chunker used for a source file.
type FileType string

const (
	FileTypeXML  FileType = "xml"
	FileTypeJSON FileType = "json"
	FileTypeText FileType = "text"
)

// DetectFileType maps a path to a FileType by extension only.
// .xml is XML, .json and .jsonl are JSON, everything else is text.
func DetectFileType(path string) FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FileTypeXML
	case ".json", ".jsonl":
		return FileTypeJSON
	default:
		return FileTypeText
	}
}

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobProgress tracks how far a job has advanced through its source file.
// LastOffset never decreases within a job.
type JobProgress struct {
	BytesProcessed      int64 `json:"bytesProcessed"`
	ChunksCreated       int64 `json:"chunksCreated"`
	EmbeddingsGenerated int64 `json:"embeddingsGenerated"`
	LastOffset          int64 `json:"lastOffset"`
}

// JobMetadata records how a job chunks its source.
type JobMetadata struct {
	FileType     FileType `json:"fileType"`
	ChunkSize    int      `json:"chunkSize"`
	OverlapSize  int      `json:"overlapSize"`
	MaxChunkSize int      `json:"maxChunkSize,omitempty"`
	ResumedFrom  string   `json:"resumedFrom,omitempty"`
}

// ProcessingJob is one attempt at processing one source file.
type ProcessingJob struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	SourceFile     string      `json:"sourceFile"`
	SourceSize     int64       `json:"sourceSize"`
	CollectionName string      `json:"collectionName"`
	Status         JobStatus   `json:"status"`
	Progress       JobProgress `json:"progress"`
	Metadata       JobMetadata `json:"metadata"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// CollectionPrefix marks collections owned by working memory.
const CollectionPrefix = "wm_"

// CollectionName derives the collection name for a job.
func CollectionName(jobID string) string {
	return CollectionPrefix + jobID
}

// Clone returns a deep copy of the job.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Chunk is a persisted slice of a source file.
type Chunk struct {
	ID         int64         `json:"id"`
	JobID      string        `json:"jobId"`
	Content    string        `json:"content"`
	Offset     int64         `json:"offset"`
	Length     int           `json:"length"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"embedding,omitempty"`
	ContentRef ContentRef    `json:"contentRef,omitempty"`
}

// SearchResult is a chunk matched by similarity search.
type SearchResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float32 `json:"score"`
}

// Checkpoint is the resumable parser state saved with a job's latest batch.
// State is opaque to storage. Position is the number of source bytes the
// parser had consumed when the batch's last chunk was cut.
type Checkpoint struct {
	JobID     string          `json:"jobId"`
	Position  int64           `json:"position"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
