package mmap

import (
	"os"
	"sync/atomic"
)

// Mapping is a read-only view of one segment file.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path. Empty files map to an empty view.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, unmap: unmap}, nil
}

// Close unmaps the file. Later calls do nothing.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil || m.data == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Bytes is the mapped content, or nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size is the file size in bytes.
func (m *Mapping) Size() int { return len(m.data) }

// Advise tells the kernel how the segment is about to be read.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdvise(m.data, pattern)
}
