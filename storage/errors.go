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

package storage

import "errors"

// Repositories and collection backends wrap these so callers can test with
// errors.Is regardless of the backing store.
var (
	// ErrNotFound is returned for a missing job, checkpoint or collection.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when a job or collection already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageClosed is returned by every operation on a closed backend.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery is returned for a negative offset or for chunks that do
	// not belong to the collection being written.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed wraps codec failures on stored jobs, chunks,
	// checkpoints and collection metadata.
	ErrSerializationFailed = errors.New("serialization failed")
)
