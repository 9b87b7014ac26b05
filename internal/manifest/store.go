package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/lexgo/internal/fs"
)

const (
	FileName   = "MANIFEST"
	BackupName = "MANIFEST.bak"
	tempName   = "MANIFEST.tmp"
)

// Store reads and atomically replaces the manifest under a collection root.
type Store struct {
	fs  fs.FileSystem
	dir string

	mu      sync.Mutex
	version uint64
}

// NewStore creates a manifest store for dir.
func NewStore(fsys fs.FileSystem, dir string) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Store{fs: fsys, dir: dir}
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// Load reads the current generation, falling back to the backup when the
// current file is missing or corrupt.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read(FileName)
	if err != nil {
		bak, bakErr := s.read(BackupName)
		if bakErr != nil {
			if errors.Is(err, os.ErrNotExist) && errors.Is(bakErr, os.ErrNotExist) {
				return nil, ErrNotFound
			}
			if errors.Is(err, os.ErrNotExist) {
				return nil, bakErr
			}
			return nil, err
		}
		m = bak
	}
	if m.Version > s.version {
		s.version = m.Version
	}
	return m, nil
}

func (s *Store) read(name string) (*Manifest, error) {
	data, err := fs.ReadFile(s.fs, s.path(name))
	if err != nil {
		return nil, err
	}
	return ReadBinary(bytes.NewReader(data))
}

// Flush durably installs m as the current generation and assigns it the
// next version. The previous generation becomes the backup. If the final
// rename fails the backup is restored and an ErrFatal error is returned.
func (s *Store) Flush(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := max(s.version, m.Version) + 1
	out := *m
	out.Version = next
	out.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := out.WriteBinary(&buf); err != nil {
		return err
	}

	tmp := s.path(tempName)
	if err := fs.WriteFileSync(s.fs, tmp, buf.Bytes()); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("manifest: write temp: %w", err)
	}

	current, backup := s.path(FileName), s.path(BackupName)
	hadCurrent := fs.Exists(s.fs, current)
	if hadCurrent {
		if err := s.fs.Rename(current, backup); err != nil {
			_ = s.fs.Remove(tmp)
			return fmt.Errorf("manifest: keep backup: %w", err)
		}
	}

	if err := s.fs.Rename(tmp, current); err != nil {
		if hadCurrent {
			if restoreErr := s.fs.Rename(backup, current); restoreErr != nil {
				return fmt.Errorf("%w: %w (restore: %w)", ErrFatal, err, restoreErr)
			}
		}
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	if err := fs.SyncDir(s.fs, s.dir); err != nil {
		return fmt.Errorf("manifest: sync dir: %w", err)
	}

	m.Version = next
	m.CreatedAt = out.CreatedAt
	s.version = next
	return nil
}

// Version is the last version loaded or flushed by this store.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ModTime returns the modification time of the current generation.
func (s *Store) ModTime() (time.Time, error) {
	fi, err := s.fs.Stat(s.path(FileName))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
