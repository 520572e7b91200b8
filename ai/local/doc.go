// Package local provides an embedder that runs in-process with no model or
// network access. Vectors are built by feature hashing, so identical text
// always maps to the identical vector and texts that share words and
// character trigrams land close together.
package local
