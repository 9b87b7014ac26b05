// Package storage groups the on-disk state of one collection: its backing
// directories, the manifest store, the advisory locks and the in-use
// registry.
package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

// Storage is the file layout of a collection. The first directory is the
// root holding the manifest, lock files and in-use declarations.
type Storage struct {
	fs        fs.FileSystem
	dirs      *fs.DirSet
	manifests *manifest.Store
	locks     *lock.Manager
	registry  *lock.Registry
	logger    *slog.Logger
}

// Open prepares the directories of a collection. Nothing is read yet.
func Open(fsys fs.FileSystem, dirs []string, logger *slog.Logger) (*Storage, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ds, err := fs.NewDirSet(fsys, dirs...)
	if err != nil {
		return nil, err
	}
	root := ds.Root()
	return &Storage{
		fs:        fsys,
		dirs:      ds,
		manifests: manifest.NewStore(fsys, root),
		locks:     lock.NewManager(fsys, root),
		registry:  lock.NewRegistry(fsys, root),
		logger:    logger,
	}, nil
}

func (s *Storage) FS() fs.FileSystem            { return s.fs }
func (s *Storage) Dirs() *fs.DirSet             { return s.dirs }
func (s *Storage) Root() string                 { return s.dirs.Root() }
func (s *Storage) Manifests() *manifest.Store   { return s.manifests }
func (s *Storage) Locks() *lock.Manager         { return s.locks }
func (s *Storage) Registry() *lock.Registry     { return s.registry }
func (s *Storage) SegmentDir(dir uint32) string { return s.dirs.Dir(int(dir)) }

// LoadManifest returns the current manifest, or an empty one for a new
// collection.
func (s *Storage) LoadManifest() (*manifest.Manifest, error) {
	m, err := s.manifests.Load()
	if errors.Is(err, manifest.ErrNotFound) {
		return manifest.New(), nil
	}
	return m, err
}

// OpenSegment opens a live segment. Readers of one directory share a buffer
// pool scope.
func (s *Storage) OpenSegment(info manifest.SegmentInfo, pool *resource.BufferPool) (*segment.Reader, error) {
	dir := s.SegmentDir(info.Dir)
	var scope *resource.Scope
	if pool != nil {
		scope = pool.Scope(dir)
	}
	r, err := segment.Open(s.fs, dir, info.ID, scope)
	if err != nil {
		return nil, err
	}
	if r.DocCount() != info.DocCount {
		_ = r.Close()
		return nil, fmt.Errorf("%w: segment %d has %d docs, manifest says %d",
			segment.ErrCorrupt, info.ID, r.DocCount(), info.DocCount)
	}
	return r, nil
}

// CreateSegment starts a new segment in the directory with most free space.
// The id is declared in use until ReleaseSegment so that concurrent cleanups
// leave the files alone before they reach the manifest.
func (s *Storage) CreateSegment(id uint64, opts segment.WriterOptions) (*segment.Writer, uint32, error) {
	dir := s.dirs.Pick()
	if err := s.registry.Retain(id); err != nil {
		return nil, 0, err
	}
	w, err := segment.Create(s.fs, s.dirs.Dir(dir), id, opts)
	if err != nil {
		_ = s.registry.Release(id)
		return nil, 0, err
	}
	return w, uint32(dir), nil
}

// ReleaseSegment drops the declaration made by CreateSegment.
func (s *Storage) ReleaseSegment(id uint64) {
	if err := s.registry.Release(id); err != nil {
		s.logger.Warn("release segment declaration", "segment", id, "error", err)
	}
}

// RemoveSegment deletes the files of a segment.
func (s *Storage) RemoveSegment(info manifest.SegmentInfo) error {
	return segment.Remove(s.fs, s.SegmentDir(info.Dir), info.ID)
}

// RemoveDeletables deletes segment files that are neither referenced by m
// nor declared in use by a live process. It does nothing while a duplicate
// lock is held, since a copy may be reading files the manifest dropped.
func (s *Storage) RemoveDeletables(m *manifest.Manifest) (int, error) {
	if s.locks.Held(lock.Duplicate) {
		s.logger.Debug("skip cleanup while duplicating")
		return 0, nil
	}

	keep, err := s.registry.InUse()
	if err != nil {
		return 0, err
	}
	for _, id := range m.SegmentIDs() {
		keep[id] = struct{}{}
	}

	s.dirs.Invalidate()
	removed := 0
	var errs []error
	for i := 0; i < s.dirs.Len(); i++ {
		entries, err := s.dirs.List(i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			id, _, ok := segment.ParseFileName(e.Name())
			if !ok {
				continue
			}
			if _, live := keep[id]; live {
				continue
			}
			if err := s.fs.Remove(s.dirs.Path(i, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.dirs.Invalidate()
		s.logger.Debug("removed orphan segment files", "files", removed)
	}
	return removed, errors.Join(errs...)
}

// Close releases every lock and in-use declaration of this process.
func (s *Storage) Close() error {
	return errors.Join(s.registry.Close(), s.locks.ReleaseAll())
}
