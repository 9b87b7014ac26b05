package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The term-level lexer recognizes the surface syntax of a single leaf value.

// parsePhrase splits `"a b"^N` into its inner text and slop.
func parsePhrase(text string) (inner string, slop int, ok bool, err error) {
	if !strings.HasPrefix(text, `"`) {
		return "", 0, false, nil
	}
	end := strings.LastIndexByte(text, '"')
	if end == 0 {
		return "", 0, false, fmt.Errorf("unterminated phrase")
	}
	inner, rest := text[1:end], text[end+1:]
	if rest == "" {
		return inner, 0, true, nil
	}
	if !strings.HasPrefix(rest, "^") {
		return "", 0, false, fmt.Errorf("unexpected %q after phrase", rest)
	}
	slop, err = strconv.Atoi(rest[1:])
	if err != nil || slop < 0 {
		return "", 0, false, fmt.Errorf("invalid proximity %q", rest[1:])
	}
	return inner, slop, true, nil
}

// parseRange splits "[a TO b]". A "*" bound is open.
func parseRange(text string) (from, to string, ok bool, err error) {
	if !strings.HasPrefix(text, "[") {
		return "", "", false, nil
	}
	if !strings.HasSuffix(text, "]") {
		return "", "", false, fmt.Errorf("unterminated range")
	}
	parts := strings.Fields(text[1 : len(text)-1])
	if len(parts) != 3 || parts[1] != "TO" {
		return "", "", false, fmt.Errorf("range must read [from TO to]")
	}
	from, to = parts[0], parts[2]
	if from == "*" {
		from = ""
	}
	if to == "*" {
		to = ""
	}
	return from, to, true, nil
}

// parseList splits "{a,b,c}".
func parseList(text string) ([]string, bool, error) {
	if !strings.HasPrefix(text, "{") {
		return nil, false, nil
	}
	if !strings.HasSuffix(text, "}") {
		return nil, false, fmt.Errorf("unterminated list")
	}
	var out []string
	for _, part := range strings.Split(text[1:len(text)-1], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, true, nil
}

// DigitOp is the comparison of a Digit leaf.
type DigitOp uint8

const (
	DigitEq DigitOp = iota
	DigitRange
	DigitGT
	DigitGE
	DigitLT
	DigitLE
	// DigitAny matches values sharing at least one bit with the mask.
	DigitAny
	// DigitAll matches values carrying every bit of the mask.
	DigitAll
	// DigitNone matches values sharing no bit with the mask.
	DigitNone
)

// Digit is a test against a numeric or bit column. Unsigned compares the
// raw bits as uint64, which Bit fields do.
type Digit struct {
	Op       DigitOp
	A, B     int64
	Unsigned bool
}

// Match tests v.
func (d Digit) Match(v int64) bool {
	switch d.Op {
	case DigitAny:
		return v&d.A != 0
	case DigitAll:
		return v&d.A == d.A
	case DigitNone:
		return v&d.A == 0
	}
	cmp := func(a, b int64) int {
		if d.Unsigned {
			ua, ub := uint64(a), uint64(b)
			switch {
			case ua < ub:
				return -1
			case ua > ub:
				return 1
			}
			return 0
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch d.Op {
	case DigitEq:
		return v == d.A
	case DigitRange:
		return cmp(v, d.A) >= 0 && cmp(v, d.B) <= 0
	case DigitGT:
		return cmp(v, d.A) > 0
	case DigitGE:
		return cmp(v, d.A) >= 0
	case DigitLT:
		return cmp(v, d.A) < 0
	case DigitLE:
		return cmp(v, d.A) <= 0
	}
	return false
}

func parseDigit(text string, unsigned bool) (Digit, error) {
	d := Digit{Unsigned: unsigned}
	num := func(s string) (int64, error) {
		s = strings.TrimSpace(s)
		if unsigned {
			u, err := strconv.ParseUint(s, 0, 64)
			return int64(u), err
		}
		return strconv.ParseInt(s, 0, 64)
	}
	var err error
	switch {
	case strings.HasPrefix(text, "&="):
		d.Op = DigitAll
		d.A, err = mask(text[2:])
	case strings.HasPrefix(text, "&!"):
		d.Op = DigitNone
		d.A, err = mask(text[2:])
	case strings.HasPrefix(text, "&"):
		d.Op = DigitAny
		d.A, err = mask(text[1:])
	case strings.HasPrefix(text, "["):
		from, to, _, rerr := parseRange(text)
		if rerr != nil {
			return d, rerr
		}
		return digitRange(d, from, to, num)
	case strings.HasPrefix(text, ">="):
		d.Op = DigitGE
		d.A, err = num(text[2:])
	case strings.HasPrefix(text, ">"):
		d.Op = DigitGT
		d.A, err = num(text[1:])
	case strings.HasPrefix(text, "<="):
		d.Op = DigitLE
		d.A, err = num(text[2:])
	case strings.HasPrefix(text, "<"):
		d.Op = DigitLT
		d.A, err = num(text[1:])
	case strings.Contains(text, ".."):
		from, to, _ := strings.Cut(text, "..")
		return digitRange(d, from, to, num)
	default:
		d.Op = DigitEq
		d.A, err = num(text)
	}
	if err != nil {
		return d, fmt.Errorf("invalid number %q", text)
	}
	return d, nil
}

func mask(s string) (int64, error) {
	u, err := strconv.ParseUint(s, 0, 64)
	return int64(u), err
}

func digitRange(d Digit, from, to string, num func(string) (int64, error)) (Digit, error) {
	var err error
	switch {
	case from == "" && to == "":
		return d, fmt.Errorf("range without bounds")
	case from == "":
		d.Op = DigitLE
		d.A, err = num(to)
	case to == "":
		d.Op = DigitGE
		d.A, err = num(from)
	default:
		d.Op = DigitRange
		if d.A, err = num(from); err == nil {
			d.B, err = num(to)
		}
	}
	if err != nil {
		return d, fmt.Errorf("invalid range %s..%s", from, to)
	}
	return d, nil
}

// Geo is a radius test around a point. Coordinates are degrees.
type Geo struct {
	Lat, Lon float64
	Km       float64
}

func parseGeo(text string) (Geo, error) {
	point, radius, ok := strings.Cut(text, "~")
	if !ok {
		return Geo{}, fmt.Errorf("coordinate %q lacks a ~radius", text)
	}
	latS, lonS, ok := strings.Cut(point, "/")
	if !ok {
		return Geo{}, fmt.Errorf("coordinate %q must read lat/lon", point)
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	km, err3 := strconv.ParseFloat(radius, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Geo{}, fmt.Errorf("invalid coordinate %q", text)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Geo{}, fmt.Errorf("coordinate %q out of range", point)
	}
	if !(km > 0) || math.IsInf(km, 0) {
		return Geo{}, fmt.Errorf("invalid radius %q", radius)
	}
	return Geo{Lat: lat, Lon: lon, Km: km}, nil
}
