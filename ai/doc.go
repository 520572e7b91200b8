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

// Package ai provides the embedding abstraction used by chunkstream.
//
// Chunks are embedded so they can be searched by cosine similarity. The
// package defines the Embedder interface and the pieces shared by its
// implementations: configuration, retry with backoff, vector helpers, and a
// FallbackEmbedder that downgrades to local embeddings when the remote
// provider keeps failing.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/local: deterministic feature hashing, no network
//   - ai/mock: test doubles
//
// Public constructors return interface types. Test utility constructors
// return concrete types so tests can inspect call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithEmbeddingHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "<sms body=\"hi\"/>")
package ai
