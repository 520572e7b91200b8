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

// Package workmem is the working memory of the ingestion system: a table of
// processing jobs and, per job, a collection of chunks that can be paged,
// searched and exported.
//
// Each job owns the collection named core.CollectionName(job.ID). Chunk ids
// are assigned here from the job's progress counter, so ids within a job are
// dense, start at zero and continue across resumed jobs.
//
// Basic usage:
//
//	stores, _ := badger.Open(dir, false)
//	mem := workmem.New(stores.Jobs, stores.Checkpoints, stores.Collections, embedder)
//	job, _ := mem.CreateJob(ctx, "sms", path, size, core.JobMetadata{FileType: core.FileTypeXML})
//	_ = mem.StoreChunks(ctx, job.ID, chunks, true, nil)
//	results, _ := mem.SearchChunks(ctx, job.ID, "dinner plans", 10, nil)
package workmem
