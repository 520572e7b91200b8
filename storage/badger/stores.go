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

package badger

import "errors"

// Stores bundles the badger-backed repositories that share one database.
type Stores struct {
	Backend     *Backend
	Jobs        *JobRepository
	Checkpoints *CheckpointRepository
	Collections *CollectionBackend
}

// Open opens the database at path, or an in-memory one, and builds every
// repository on it.
func Open(path string, inMemory bool) (*Stores, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Backend:     backend,
		Jobs:        NewJobRepository(backend),
		Checkpoints: NewCheckpointRepository(backend),
		Collections: NewCollectionBackend(backend),
	}, nil
}

// Close closes the shared database. Closing twice is not an error.
func (s *Stores) Close() error {
	if s.Backend.IsClosed() {
		return nil
	}
	return errors.Join(s.Collections.Close(), s.Backend.Close())
}
