// Package index implements the write path of a collection.
//
// The Indexer buffers documents in an in-memory term table, flushes them
// into a new segment on Commit, applies deletions by primary id and drives
// merges. It holds the index lock from its first write until Close.
package index
