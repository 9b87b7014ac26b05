package lock

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/lexgo/internal/fs"
)

const usingPrefix = "using-"

// Registry tracks the segments this process has open and publishes them in
// using-<pid> under the collection root.
type Registry struct {
	fs    fs.FileSystem
	dir   string
	pid   int
	alive func(pid int) bool

	mu     sync.Mutex
	counts map[uint64]int
}

// NewRegistry returns a registry publishing under dir.
func NewRegistry(fsys fs.FileSystem, dir string) *Registry {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Registry{
		fs:     fsys,
		dir:    dir,
		pid:    os.Getpid(),
		alive:  ProcessAlive,
		counts: make(map[uint64]int),
	}
}

func (r *Registry) path(pid int) string {
	return filepath.Join(r.dir, usingPrefix+strconv.Itoa(pid))
}

// Retain marks segments as open by this process.
func (r *Registry) Retain(ids ...uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.counts[id]++
	}
	return r.publishLocked()
}

// Release drops one reference per id.
func (r *Registry) Release(ids ...uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if n := r.counts[id]; n <= 1 {
			delete(r.counts, id)
		} else {
			r.counts[id] = n - 1
		}
	}
	return r.publishLocked()
}

// Local returns the ids this process holds.
func (r *Registry) Local() map[uint64]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]struct{}, len(r.counts))
	for id := range r.counts {
		out[id] = struct{}{}
	}
	return out
}

// InUse returns the union of the segment ids declared by every live process.
// Files left behind by dead processes are removed.
func (r *Registry) InUse() (map[uint64]struct{}, error) {
	out := r.Local()

	entries, err := r.fs.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, usingPrefix) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimPrefix(name, usingPrefix))
		if err != nil || pid == r.pid {
			continue
		}
		if !r.alive(pid) {
			_ = r.fs.Remove(filepath.Join(r.dir, name))
			continue
		}
		ids, err := r.read(filepath.Join(r.dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// Close clears this process' declaration.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.counts)
	if err := r.fs.Remove(r.path(r.pid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (r *Registry) publishLocked() error {
	ids := make([]uint64, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(strconv.FormatUint(id, 10))
		buf.WriteByte('\n')
	}

	final := r.path(r.pid)
	tmp := final + ".tmp"
	if err := fs.WriteFileSync(r.fs, tmp, buf.Bytes()); err != nil {
		return fmt.Errorf("lock: publish in-use segments: %w", err)
	}
	if err := r.fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("lock: publish in-use segments: %w", err)
	}
	return nil
}

func (r *Registry) read(path string) ([]uint64, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lock: malformed %s: %w", filepath.Base(path), err)
		}
		ids = append(ids, id)
	}
	return ids, sc.Err()
}
