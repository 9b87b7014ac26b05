// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: open, remove, rename, stat, mkdir and readdir
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: fault injection for tests (failed writes, syncs, renames)
//
// [DirSet] groups the backing directories of a collection. New segments go
// to the directory with the most free space and directory listings are cached
// by modification time.
//
// This package intentionally does NOT take context.Context parameters.
// Local filesystem calls are not interruptible at the syscall level.
package fs
