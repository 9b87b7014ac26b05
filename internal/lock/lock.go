package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/lexgo/internal/fs"
)

// ErrBusy is returned when a lock is held by another live owner.
var ErrBusy = errors.New("lock: busy")

// ErrNotHeld is returned when releasing a lock this manager does not own.
var ErrNotHeld = errors.New("lock: not held")

// Kind names one advisory lock.
type Kind string

const (
	// Index is held by the single writer of a collection.
	Index Kind = "index"
	// Merge is held while segments are merged.
	Merge Kind = "merge"
	// Replicate is held while a collection is restored from a remote copy.
	Replicate Kind = "replicate"
	// Duplicate is held while a collection is copied elsewhere. Writers and
	// file removal back off while it is held.
	Duplicate Kind = "duplicate"
)

// FileName returns the marker file name of the lock.
func (k Kind) FileName() string { return string(k) + ".lock" }

// DefaultPollInterval is the sleep between attempts in Acquire.
const DefaultPollInterval = 50 * time.Millisecond

// Manager acquires and releases the locks of one collection root.
type Manager struct {
	fs           fs.FileSystem
	dir          string
	pid          int
	alive        func(pid int) bool
	pollInterval time.Duration

	mu   sync.Mutex
	held map[Kind]bool
}

// NewManager returns a manager for lock files under dir.
func NewManager(fsys fs.FileSystem, dir string) *Manager {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Manager{
		fs:           fsys,
		dir:          dir,
		pid:          os.Getpid(),
		alive:        ProcessAlive,
		pollInterval: DefaultPollInterval,
		held:         make(map[Kind]bool),
	}
}

// SetPollInterval changes the polling interval of Acquire.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

func (m *Manager) path(k Kind) string { return filepath.Join(m.dir, k.FileName()) }

// TryAcquire takes the lock without waiting. A lock left behind by a dead
// process is reclaimed. ErrBusy means a live owner, possibly this process,
// holds it.
func (m *Manager) TryAcquire(k Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[k] {
		return fmt.Errorf("%w: %s held by this process", ErrBusy, k)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := m.create(k)
		if err == nil {
			m.held[k] = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}

		owner, readErr := m.owner(k)
		if readErr == nil && m.alive(owner) {
			return fmt.Errorf("%w: %s held by pid %d", ErrBusy, k, owner)
		}
		if errors.Is(readErr, os.ErrNotExist) {
			continue
		}
		// Dead owner or unreadable content: reclaim.
		if err := m.fs.Remove(m.path(k)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrBusy, k)
}

// Acquire polls TryAcquire until it succeeds or ctx is done.
func (m *Manager) Acquire(ctx context.Context, k Kind) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		err := m.TryAcquire(k)
		if err == nil || !errors.Is(err, ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release removes a lock owned by this manager.
func (m *Manager) Release(k Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held[k] {
		return fmt.Errorf("%w: %s", ErrNotHeld, k)
	}
	delete(m.held, k)
	if err := m.fs.Remove(m.path(k)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Owns reports whether this manager holds the lock.
func (m *Manager) Owns(k Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[k]
}

// Held reports whether any live process, including this one, holds the lock.
func (m *Manager) Held(k Kind) bool {
	if m.Owns(k) {
		return true
	}
	owner, err := m.owner(k)
	if err != nil {
		return false
	}
	return m.alive(owner)
}

// ReleaseAll drops every lock owned by this manager.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	kinds := make([]Kind, 0, len(m.held))
	for k := range m.held {
		kinds = append(kinds, k)
	}
	m.mu.Unlock()

	var errs []error
	for _, k := range kinds {
		errs = append(errs, m.Release(k))
	}
	return errors.Join(errs...)
}

func (m *Manager) create(k Kind) error {
	f, err := m.fs.OpenFile(m.path(k), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(strconv.Itoa(m.pid))); err != nil {
		_ = f.Close()
		_ = m.fs.Remove(m.path(k))
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = m.fs.Remove(m.path(k))
		return err
	}
	return f.Close()
}

func (m *Manager) owner(k Kind) (int, error) {
	data, err := fs.ReadFile(m.fs, m.path(k))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
