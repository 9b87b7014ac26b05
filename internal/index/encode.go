package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/lexgo/analysis"
	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/segment"
)

// NormWidth is the width of the per-field term count columns.
const NormWidth = 4

// encoder translates field values into buffer entries.
type encoder struct {
	an  analysis.Analyzer
	mem *memTable
}

// encode writes one field of doc. Errors only concern this field.
func (e *encoder) encode(doc uint32, fi manifest.FieldInfo, f document.Field) error {
	switch fi.Type.Kind {
	case document.KindText:
		return e.text(doc, fi, f)
	case document.KindTermSet:
		return e.termSet(doc, fi, f)
	case document.KindString:
		s, ok := f.Value.(string)
		if !ok {
			return errValue(f)
		}
		e.mem.addPosting(segment.Key{Ord: fi.Ordinal, Term: s}, doc, 1, nil)
		return nil
	case document.KindList:
		values, ok := f.Value.([]string)
		if !ok {
			return errValue(f)
		}
		seen := make(map[string]struct{}, len(values))
		for _, v := range values {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			e.mem.addPosting(segment.Key{Ord: fi.Ordinal, Term: v}, doc, 1, nil)
		}
		return nil
	case document.KindNumeric:
		v, ok := toInt64(f.Value)
		if !ok {
			return errValue(f)
		}
		if !fitsSigned(v, fi.Type.Width) {
			return fmt.Errorf("%d overflows %d bytes", v, fi.Type.Width)
		}
		e.column(doc, fi, uint64(v))
		return nil
	case document.KindBit:
		v, ok := toUint64(f.Value)
		if !ok {
			return errValue(f)
		}
		if fi.Type.Width < 8 && v>>(8*uint(fi.Type.Width)) != 0 {
			return fmt.Errorf("mask %#x overflows %d bytes", v, fi.Type.Width)
		}
		e.column(doc, fi, v)
		return nil
	case document.KindCoord:
		p, ok := f.Value.(document.Point)
		if !ok {
			return errValue(f)
		}
		lat, lon, err := FixedPoint(p, fi.Type)
		if err != nil {
			return err
		}
		var b [8]byte
		binary.LittleEndian.PutUint32(b[:], uint32(lat))
		binary.LittleEndian.PutUint32(b[4:], uint32(lon))
		e.mem.setColumn(segment.ColumnKey{Ord: fi.Ordinal}, 8, doc, b[:])
		return nil
	default:
		return fmt.Errorf("unsupported kind %s", fi.Type.Kind)
	}
}

func (e *encoder) text(doc uint32, fi manifest.FieldInfo, f document.Field) error {
	s, ok := f.Value.(string)
	if !ok {
		return errValue(f)
	}
	withPositions := f.Options&document.NoPositions == 0
	mode := analysis.Positions
	if !withPositions {
		mode = analysis.Frequency
	}
	terms := e.an.Analyze(s, f.Lang, mode)
	var count uint32
	for term, positions := range terms {
		freq := uint32(len(positions))
		count += freq
		if !withPositions {
			positions = nil
		}
		e.mem.addPosting(segment.Key{Ord: fi.Ordinal, Term: term}, doc, freq, positions)
	}
	if f.Options&document.NoNorms == 0 {
		e.norm(doc, fi, count)
	}
	return nil
}

func (e *encoder) termSet(doc uint32, fi manifest.FieldInfo, f document.Field) error {
	var terms map[string]uint32
	switch v := f.Value.(type) {
	case string:
		analyzed := e.an.Analyze(v, f.Lang, analysis.Frequency)
		terms = make(map[string]uint32, len(analyzed))
		for term, positions := range analyzed {
			terms[term] = uint32(len(positions))
		}
	case []string:
		terms = make(map[string]uint32, len(v))
		for _, term := range v {
			terms[term]++
		}
	default:
		return errValue(f)
	}
	var count uint32
	for term, freq := range terms {
		count += freq
		e.mem.addPosting(segment.Key{Ord: fi.Ordinal, Term: term}, doc, freq, nil)
	}
	e.norm(doc, fi, count)
	return nil
}

func (e *encoder) norm(doc uint32, fi manifest.FieldInfo, count uint32) {
	var b [NormWidth]byte
	binary.LittleEndian.PutUint32(b[:], count)
	e.mem.setColumn(segment.ColumnKey{Ord: fi.Ordinal, Role: segment.RoleNorm}, NormWidth, doc, b[:])
}

func (e *encoder) column(doc uint32, fi manifest.FieldInfo, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w := fi.Type.Width
	e.mem.setColumn(segment.ColumnKey{Ord: fi.Ordinal}, w, doc, b[:w])
}

// FixedPoint converts p to the fixed-point representation of typ.
func FixedPoint(p document.Point, typ document.Type) (int32, int32, error) {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return 0, 0, fmt.Errorf("coordinate %v/%v out of range", p.Lat, p.Lon)
	}
	scale := typ.CoordScale()
	return int32(math.Round(p.Lat * scale)), int32(math.Round(p.Lon * scale)), nil
}

func errValue(f document.Field) error {
	return fmt.Errorf("value of type %T does not fit %s", f.Value, f.Type)
}

func fitsSigned(v int64, width uint8) bool {
	if width >= 8 {
		return true
	}
	bits := 8 * uint(width)
	lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
	return v >= lo && v <= hi
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}
