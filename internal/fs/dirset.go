package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoDirs is returned when a DirSet is created without directories.
var ErrNoDirs = errors.New("fs: at least one directory is required")

// DirSet is the ordered set of backing directories of one collection.
// The first directory is the root and holds the manifest and lock files;
// segment files may live in any of them.
type DirSet struct {
	fs   FileSystem
	dirs []string

	// freeSpace is swappable for tests.
	freeSpace func(dir string) (uint64, error)

	mu      sync.Mutex
	listing map[int]cachedListing
}

type cachedListing struct {
	modTime time.Time
	entries []os.DirEntry
}

// NewDirSet creates every directory and returns the set.
func NewDirSet(fsys FileSystem, dirs ...string) (*DirSet, error) {
	if len(dirs) == 0 {
		return nil, ErrNoDirs
	}
	if fsys == nil {
		fsys = Default
	}
	cleaned := make([]string, len(dirs))
	for i, d := range dirs {
		cleaned[i] = filepath.Clean(d)
		if err := fsys.MkdirAll(cleaned[i], 0o755); err != nil {
			return nil, err
		}
	}
	return &DirSet{
		fs:        fsys,
		dirs:      cleaned,
		freeSpace: FreeSpace,
		listing:   make(map[int]cachedListing),
	}, nil
}

// FS returns the underlying file system.
func (d *DirSet) FS() FileSystem { return d.fs }

// Root returns the collection root directory.
func (d *DirSet) Root() string { return d.dirs[0] }

// Len returns the number of backing directories.
func (d *DirSet) Len() int { return len(d.dirs) }

// Dir returns the i-th backing directory. Out-of-range indexes map to the root.
func (d *DirSet) Dir(i int) string {
	if i < 0 || i >= len(d.dirs) {
		return d.dirs[0]
	}
	return d.dirs[i]
}

// Path joins name onto the i-th backing directory.
func (d *DirSet) Path(i int, name string) string {
	return filepath.Join(d.Dir(i), name)
}

// Pick returns the index of the directory with the most free space.
// Ties and unreadable directories favour the lower index.
func (d *DirSet) Pick() int {
	best, bestFree := 0, uint64(0)
	for i, dir := range d.dirs {
		free, err := d.freeSpace(dir)
		if err != nil {
			continue
		}
		if free > bestFree {
			best, bestFree = i, free
		}
	}
	return best
}

// List returns the entries of the i-th directory. Results are cached until
// the directory modification time changes.
func (d *DirSet) List(i int) ([]os.DirEntry, error) {
	dir := d.Dir(i)
	info, err := d.fs.Stat(dir)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	cached, ok := d.listing[i]
	d.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.entries, nil
	}

	entries, err := d.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.listing[i] = cachedListing{modTime: info.ModTime(), entries: entries}
	d.mu.Unlock()
	return entries, nil
}

// Invalidate drops cached listings. Callers that create or remove files and
// need to observe the result within the mtime granularity call it.
func (d *DirSet) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.listing)
}
