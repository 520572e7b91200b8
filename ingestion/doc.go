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

// Package ingestion streams source files into working memory.
//
// A Processor runs one pipeline per file: a producer goroutine reads the file
// in fixed-size blocks and drives a chunker, and a consumer goroutine batches
// the resulting chunks and stores them. The two are joined by a bounded
// channel, so a slow store blocks the reader and memory use does not grow
// with file size.
//
// Every stored batch carries the chunker's checkpoint. ResumeJob uses it to
// restart an interrupted job exactly where its last batch ended.
package ingestion
