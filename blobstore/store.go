package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for storing immutable blobs: segment files and
// manifests of exported collections.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The blob becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a small blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
	// ReadRange returns a reader over length bytes starting at off.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.WriteCloser
	// Abort discards the blob. Close must not be called afterwards.
	Abort() error
}

// ReadAll copies the whole blob to w.
func ReadAll(ctx context.Context, w io.Writer, b Blob) (int64, error) {
	if b.Size() == 0 {
		return 0, nil
	}
	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()
	return io.Copy(w, rc)
}

// Get reads a whole blob into memory.
func Get(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()
	var buf bytes.Buffer
	buf.Grow(int(b.Size()))
	if _, err := ReadAll(ctx, &buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
