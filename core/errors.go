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
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrContentNotFound indicates a ref has no backing object.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidReference indicates a malformed content ref string.
	ErrInvalidReference = errors.New("invalid content reference")

	// ErrSizeExceeded indicates a payload over the configured cap.
	ErrSizeExceeded = errors.New("size exceeded")

	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrStream indicates a read or parse failure on a source stream.
	ErrStream = errors.New("stream error")

	// ErrBackendUnavailable indicates the collection backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidTransition indicates a job status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidChunkingOptions indicates chunk size settings that cannot make progress.
	ErrInvalidChunkingOptions = errors.New("invalid chunking options")

	// ErrJobNotResumable indicates a job that has already completed or has
	// already been resumed.
	ErrJobNotResumable = errors.New("job not resumable")

	// ErrJobPaused indicates a write to a job that was paused.
	ErrJobPaused = errors.New("job paused")

	// ErrJobClosed indicates a write to a completed or failed job.
	ErrJobClosed = errors.New("job closed")
)

// StreamError carries the I/O cause of a stream failure and the offset
// at which it happened.
type StreamError struct {
	Op     string
	Path   string
	Offset int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s %s at offset %d: %v", e.Op, e.Path, e.Offset, e.Err)
}

// Unwrap exposes both the cause and ErrStream to errors.Is.
func (e *StreamError) Unwrap() []error {
	return []error{ErrStream, e.Err}
}

// NewStreamError wraps err as a StreamError.
func NewStreamError(op, path string, offset int64, err error) error {
	return &StreamError{Op: op, Path: path, Offset: offset, Err: err}
}
