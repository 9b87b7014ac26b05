//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid names a running process. Signal 0 performs
// the permission and existence checks without delivering anything.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
