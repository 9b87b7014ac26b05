//go:build !linux && !darwin

package fs

import "errors"

var errFreeSpaceUnsupported = errors.New("fs: free space not supported on this platform")

// FreeSpace is not available on this platform; DirSet.Pick falls back to the root.
func FreeSpace(string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}
