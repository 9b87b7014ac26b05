package mmap

import "errors"

// AccessPattern is a read-ahead hint for a mapping.
type AccessPattern int

const (
	// AccessDefault restores the kernel's default read-ahead.
	AccessDefault AccessPattern = iota
	// AccessSequential is used while a merge streams through a segment.
	AccessSequential
	// AccessRandom suits dictionary lookups and sort-map reads.
	AccessRandom
)

var (
	// ErrClosed is returned by Advise after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files too large to map on this platform.
	ErrInvalidSize = errors.New("mmap: invalid file size")
)
