package blobstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpSuffix = ".tmp"

// LocalStore implements Store using the local file system.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localBlob{f: f, size: fi.Size()}, nil
}

// Create creates a blob through a temporary file renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{f: f, path: path}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Delete removes a blob.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns all blobs matching the prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == s.root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	f    *os.File
	size int64
}

func (b *localBlob) Close() error { return b.f.Close() }

func (b *localBlob) Size() int64 { return b.size }

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if off >= b.size {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return io.NopCloser(io.NewSectionReader(b.f, off, min(length, b.size-off))), nil
}

type localWritableBlob struct {
	f    *os.File
	path string
	done bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Close() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true
	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (w *localWritableBlob) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}
