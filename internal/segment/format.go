package segment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

var (
	// ErrCorrupt is returned when a segment file is missing or malformed.
	ErrCorrupt = errors.New("segment corrupt")

	// ErrOutOfOrder is returned when terms or documents are added out of order.
	ErrOutOfOrder = errors.New("segment: out of order")

	// ErrClosed is returned when using a closed reader or finished writer.
	ErrClosed = errors.New("segment: closed")
)

const (
	ExtIndex     = ".idx"
	ExtDocs      = ".doc"
	ExtSortMap   = ".srt"
	ExtDeletions = ".del"

	magicIndex   = 0x4C584749 // "LXGI"
	magicDocs    = 0x4C584744 // "LXGD"
	magicSortMap = 0x4C584753 // "LXGS"
	formatV1     = 1

	// SkipInterval is the number of postings between skip entries.
	SkipInterval = 64

	skipEntrySize   = 12
	colEntrySize    = 12
	indexFooterSize = 28
	docsFooterSize  = 16
)

// Extensions lists the files of a segment. Deletions come last.
var Extensions = []string{ExtIndex, ExtDocs, ExtSortMap, ExtDeletions}

// FileName returns the file name of segment id with extension ext.
func FileName(id uint64, ext string) string {
	return strconv.FormatUint(id, 10) + ext
}

// Path returns the path of a segment file.
func Path(dir string, id uint64, ext string) string {
	return filepath.Join(dir, FileName(id, ext))
}

// ParseFileName splits a segment file name into id and extension.
func ParseFileName(name string) (uint64, string, bool) {
	ext := filepath.Ext(name)
	switch ext {
	case ExtIndex, ExtDocs, ExtSortMap, ExtDeletions:
	default:
		return 0, "", false
	}
	id, err := strconv.ParseUint(name[:len(name)-len(ext)], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, ext, true
}

func corrupt(id uint64, file string, format string, args ...any) error {
	return fmt.Errorf("%w: segment %d %s: %s", ErrCorrupt, id, file, fmt.Sprintf(format, args...))
}

// Key orders dictionary entries: by field ordinal, then term bytes.
type Key struct {
	Ord  uint16
	Term string
}

// Compare orders keys by ordinal, then term.
func (k Key) Compare(o Key) int {
	switch {
	case k.Ord < o.Ord:
		return -1
	case k.Ord > o.Ord:
		return 1
	case k.Term < o.Term:
		return -1
	case k.Term > o.Term:
		return 1
	default:
		return 0
	}
}

// Posting is one document entry of a term.
type Posting struct {
	Doc       uint32
	Freq      uint32
	Positions []uint32
}

// Row is the stored part of a document.
type Row struct {
	ID      string
	Payload []byte
	Snippet string
}

// ColumnRole distinguishes field values from per-field norms.
type ColumnRole uint8

const (
	RoleValue ColumnRole = iota
	RoleNorm
)

// ColumnKey addresses one sort-map column.
type ColumnKey struct {
	Ord  uint16
	Role ColumnRole
}

// Info summarizes a finished segment.
type Info struct {
	ID       uint64
	DocCount uint32
	Size     int64
}
