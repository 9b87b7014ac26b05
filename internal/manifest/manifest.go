package manifest

import (
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/lexgo/document"
)

// MaxOrdinal bounds the ordinal space. Field ordinals never reach it.
const MaxOrdinal uint16 = 0xFFFF

// Manifest describes the state of a collection at one commit point.
type Manifest struct {
	Version       uint64
	CreatedAt     time.Time
	NextSegmentID uint64
	NextOrdinal   uint16
	TotalDocs     uint64
	PrimaryKey    string
	Segments      []SegmentInfo
	Fields        []FieldInfo
}

// SegmentInfo describes one live segment.
type SegmentInfo struct {
	ID       uint64
	DocCount uint32
	Dir      uint32 // index into the collection's backing directories
	Size     int64
}

// FieldInfo is one entry of the field registry.
type FieldInfo struct {
	Name    string
	Type    document.Type
	Ordinal uint16
	Weight  float32
}

// New creates an empty manifest.
func New() *Manifest {
	return &Manifest{
		CreatedAt:     time.Now(),
		NextSegmentID: 1,
	}
}

// Clone returns a deep copy for copy-on-write mutation.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = slices.Clone(m.Segments)
	c.Fields = slices.Clone(m.Fields)
	return &c
}

// SetFieldInfo registers name with typ and returns its entry. The first
// declaration assigns the next ordinal; later declarations with the same
// type are no-ops.
func (m *Manifest) SetFieldInfo(name string, typ document.Type) (FieldInfo, bool, error) {
	if fi, ok := m.Field(name); ok {
		if fi.Type != typ {
			return fi, false, fmt.Errorf("%w: %s is %s, not %s", ErrFieldConflict, name, fi.Type, typ)
		}
		return fi, false, nil
	}
	if err := typ.Validate(); err != nil {
		return FieldInfo{}, false, err
	}
	if m.NextOrdinal == MaxOrdinal {
		return FieldInfo{}, false, ErrTooManyFields
	}
	fi := FieldInfo{Name: name, Type: typ, Ordinal: m.NextOrdinal, Weight: 1}
	m.NextOrdinal++
	m.Fields = append(m.Fields, fi)
	return fi, true, nil
}

// Field looks up a field by name.
func (m *Manifest) Field(name string) (FieldInfo, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}

// SetWeight sets the score weight of a registered field.
func (m *Manifest) SetWeight(name string, w float32) bool {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			m.Fields[i].Weight = w
			return true
		}
	}
	return false
}

// AllocSegmentID reserves the next segment id.
func (m *Manifest) AllocSegmentID() uint64 {
	id := m.NextSegmentID
	m.NextSegmentID++
	return id
}

// Segment returns the info of a live segment.
func (m *Manifest) Segment(id uint64) (SegmentInfo, bool) {
	for _, s := range m.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return SegmentInfo{}, false
}

// AddSegment appends a segment. Segments stay ordered oldest first.
func (m *Manifest) AddSegment(s SegmentInfo) {
	if s.ID >= m.NextSegmentID {
		m.NextSegmentID = s.ID + 1
	}
	m.Segments = append(m.Segments, s)
	m.TotalDocs += uint64(s.DocCount)
}

// RemoveSegments drops the given ids from the live set.
func (m *Manifest) RemoveSegments(ids ...uint64) {
	m.Segments = slices.DeleteFunc(m.Segments, func(s SegmentInfo) bool {
		if slices.Contains(ids, s.ID) {
			m.TotalDocs -= uint64(s.DocCount)
			return true
		}
		return false
	})
}

// ReplaceSegments swaps inputs for out at the position of the oldest
// input, which keeps the newest-first order merge policies rely on.
func (m *Manifest) ReplaceSegments(inputs []uint64, out SegmentInfo) {
	pos := len(m.Segments)
	for i, s := range m.Segments {
		if slices.Contains(inputs, s.ID) {
			pos = i
			break
		}
	}
	m.RemoveSegments(inputs...)
	if pos > len(m.Segments) {
		pos = len(m.Segments)
	}
	m.Segments = slices.Insert(m.Segments, pos, out)
	m.TotalDocs += uint64(out.DocCount)
	if out.ID >= m.NextSegmentID {
		m.NextSegmentID = out.ID + 1
	}
}

// SegmentIDs returns the live ids, oldest first.
func (m *Manifest) SegmentIDs() []uint64 {
	ids := make([]uint64, len(m.Segments))
	for i, s := range m.Segments {
		ids[i] = s.ID
	}
	return ids
}

// TotalSize is the byte size of every live segment.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, s := range m.Segments {
		n += s.Size
	}
	return n
}
