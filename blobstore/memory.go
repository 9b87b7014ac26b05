package blobstore

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in a map. It is safe for concurrent use and meant
// for tests and short-lived copies of a collection.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Open returns a handle on the current content of name. Stored slices are
// replaced, never mutated, so the handle shares them.
func (m *MemoryStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytesBlob(data), nil
}

// Create buffers writes and stores them on Close.
func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &bufferedBlob{store: m, name: name}, nil
}

// Put stores a copy of data.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	m.blobs[name] = bytes.Clone(data)
	m.mu.Unlock()
	return nil
}

// Delete removes name if present.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type bytesBlob []byte

func (b bytesBlob) Size() int64  { return int64(len(b)) }
func (b bytesBlob) Close() error { return nil }

func (b bytesBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := int64(len(b))
	if off >= size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(b[off:min(off+length, size)])), nil
}

type bufferedBlob struct {
	store *MemoryStore
	name  string
	buf   bytes.Buffer
	done  bool
}

func (w *bufferedBlob) Write(p []byte) (int, error) {
	if w.done {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *bufferedBlob) Close() error {
	if w.done {
		return io.ErrClosedPipe
	}
	w.done = true
	return w.store.Put(context.Background(), w.name, w.buf.Bytes())
}

func (w *bufferedBlob) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
