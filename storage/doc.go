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

// Package storage provides the storage abstraction layer for chunkstream.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. Two backends implement them:
//
//   - storage/badger: durable key-value storage; jobs, checkpoints and chunks
//     live in one BadgerDB and a chunk batch commits atomically with its job
//   - storage/chromem: chunks live in an embedded chromem-go vector database
//
// # Constructor Return Type Pattern
//
// Public constructors in the backend packages return concrete types so callers
// can reach backend-specific extras (BatchCommitter, Export). Consumers should
// hold them through the interfaces in this package.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	jobs := badger.NewJobRepository(backend)
//	chunks := badger.NewCollectionBackend(backend)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
