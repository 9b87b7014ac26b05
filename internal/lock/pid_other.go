//go:build !unix

package lock

import "os"

// ProcessAlive reports whether pid names a running process. On Windows
// FindProcess opens a handle and fails for exited processes.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
