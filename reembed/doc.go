// Package reembed regenerates the embeddings of chunks already stored in
// working memory, for example after a job ran on the local fallback
// embedder or without embeddings at all.
//
// Chunks are read in id order in batches, embedded with retry and written
// back under their original ids. Vectors are normalized so cosine
// similarity stays meaningful across embedders.
package reembed
