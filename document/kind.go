package document

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidType is returned for malformed field type declarations.
var ErrInvalidType = errors.New("document: invalid field type")

// Kind is the closed set of field encodings.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindTermSet
	KindString
	KindList
	KindNumeric
	KindBit
	KindCoord
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTermSet:
		return "termset"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindNumeric:
		return "numeric"
	case KindBit:
		return "bit"
	case KindCoord:
		return "coord"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindText; k <= KindCoord; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidType, s)
}

// Type is a field kind with its parameters. Width is the byte width of
// Numeric and Bit columns; Precision is the number of decimal digits kept
// for Coord.
type Type struct {
	Kind      Kind
	Width     uint8
	Precision uint8
}

// MaxCoordPrecision keeps ±180 degrees within an int32.
const MaxCoordPrecision = 7

func Text() Type    { return Type{Kind: KindText} }
func TermSet() Type { return Type{Kind: KindTermSet} }
func String() Type  { return Type{Kind: KindString} }
func List() Type    { return Type{Kind: KindList} }

// Numeric declares a signed integer column of 1, 2, 4 or 8 bytes.
func Numeric(width uint8) Type { return Type{Kind: KindNumeric, Width: width} }

// Bit declares an unsigned bit-mask column of 1, 2, 4 or 8 bytes.
func Bit(width uint8) Type { return Type{Kind: KindBit, Width: width} }

// Coord declares a geo point stored with the given decimal precision.
func Coord(precision uint8) Type { return Type{Kind: KindCoord, Width: 8, Precision: precision} }

// Validate checks the parameters of t.
func (t Type) Validate() error {
	switch t.Kind {
	case KindText, KindTermSet, KindString, KindList:
		if t.Width != 0 {
			return fmt.Errorf("%w: %s takes no width", ErrInvalidType, t.Kind)
		}
	case KindNumeric, KindBit:
		switch t.Width {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("%w: %s width %d", ErrInvalidType, t.Kind, t.Width)
		}
	case KindCoord:
		if t.Width != 8 || t.Precision == 0 || t.Precision > MaxCoordPrecision {
			return fmt.Errorf("%w: coord precision %d", ErrInvalidType, t.Precision)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidType, t.Kind)
	}
	return nil
}

// HasPostings reports whether values land in the term dictionary.
func (t Type) HasPostings() bool {
	switch t.Kind {
	case KindText, KindTermSet, KindString, KindList:
		return true
	default:
		return false
	}
}

// HasColumn reports whether values land in the sort-map.
func (t Type) HasColumn() bool {
	switch t.Kind {
	case KindNumeric, KindBit, KindCoord:
		return true
	default:
		return false
	}
}

// Scorable reports whether matches on the field contribute a TF-IDF score.
func (t Type) Scorable() bool {
	return t.Kind == KindText || t.Kind == KindTermSet
}

// CoordScale is the fixed-point multiplier of a Coord type.
func (t Type) CoordScale() float64 {
	return math.Pow10(int(t.Precision))
}

func (t Type) String() string {
	switch t.Kind {
	case KindNumeric, KindBit:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Width)
	case KindCoord:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Precision)
	default:
		return t.Kind.String()
	}
}
