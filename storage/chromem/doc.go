// Package chromem is a storage.CollectionBackend on chromem-go, an embedded
// vector database. Collections live in memory or, given a directory, persist
// as one gob file per chunk.
//
// chromem needs a vector for every document. Chunks stored without an
// embedding are indexed with the local hash embedding and flagged so that
// similarity queries skip them.
package chromem
