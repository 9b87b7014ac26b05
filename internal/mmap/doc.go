// Package mmap maps immutable segment files read-only into memory.
//
// Term dictionaries, postings and sort-map columns are read directly from the
// mapping, so opening a segment costs one mmap call per file rather than a
// full read. Platforms without mmap(2) fall back to reading the file into a
// heap buffer with the same API.
//
// Bytes returned by [Mapping.Bytes] are valid only until [Mapping.Close].
package mmap
