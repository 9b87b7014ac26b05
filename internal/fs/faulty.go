package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the error returned by injected faults without an explicit Err.
var ErrInjected = errors.New("injected fault")

// Fault defines specific failure behavior for files whose name contains a pattern.
type Fault struct {
	FailAfterBytes int64 // Fail writes once this many bytes were written to one file. -1 disables.
	FailOnSync     bool
	FailOnOpen     bool
	FailOnRename   bool // Applies when the rename target matches.
	FailOnRemove   bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
	}
}

// AddRule adds a fault injection rule for names containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes every rule.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}
	return Fault{FailAfterBytes: -1}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, ok := f.match(name)
	if ok && fault.FailOnOpen {
		return nil, fault.err()
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return file, nil
	}
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error {
	if fault, ok := f.match(name); ok && fault.FailOnRemove {
		return fault.err()
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault, ok := f.match(newpath); ok && fault.FailOnRename {
		return fault.err()
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, ff.fault.err()
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.err()
	}
	return ff.File.Sync()
}
