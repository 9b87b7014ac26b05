// Package blobstore provides storage abstraction for exported collections.
//
// Store is the interface for reading and writing immutable blobs (segment
// files, manifests). Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic writes through rename
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with range reads, multipart uploads and CRC32C
//   - minio.Store: MinIO and other S3-compatible systems
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Streaming write
//	    Put(ctx, name, data) error               // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
