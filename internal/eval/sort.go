package eval

import (
	"container/heap"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/query"
)

// SortBy selects the result order.
type SortBy uint8

const (
	// SortScore orders by descending score. Unscored queries fall back to
	// SortNone.
	SortScore SortBy = iota
	// SortNone keeps index order.
	SortNone
	// SortColumn orders by a numeric or bit column.
	SortColumn
	// SortGeo orders by distance from a point.
	SortGeo
)

// Sort is a parsed sort specification.
type Sort struct {
	By    SortBy
	Field string
	Ord   uint16
	Type  document.Type
	Desc  bool
	// Geo is the origin of SortGeo. A positive Km also filters by radius.
	Geo query.Geo
}

// ParseSort parses a sort specification:
//
//	"" or "score"      descending score
//	"none"             index order
//	"price", "+price"  ascending column
//	"-price"           descending column
//	"price:desc"       descending column
//	"loc:40.0/-74.0"   ascending distance
//	"loc:40.0/-74.0~5" ascending distance within 5 km
func ParseSort(spec string, m *manifest.Manifest) (Sort, error) {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "", "score":
		return Sort{By: SortScore}, nil
	case "none":
		return Sort{By: SortNone}, nil
	}

	s := Sort{By: SortColumn}
	name, arg, _ := strings.Cut(spec, ":")
	switch {
	case strings.HasPrefix(name, "-"):
		s.Desc, name = true, name[1:]
	case strings.HasPrefix(name, "+"):
		name = name[1:]
	}
	fi, ok := m.Field(name)
	if !ok {
		return s, query.NewError(query.StatusBadSort, spec, "unknown sort field "+strconv.Quote(name))
	}
	s.Field, s.Ord, s.Type = name, fi.Ordinal, fi.Type

	switch fi.Type.Kind {
	case document.KindNumeric, document.KindBit:
		switch arg {
		case "", "asc":
		case "desc":
			s.Desc = true
		default:
			return s, query.NewError(query.StatusBadSort, spec, "invalid sort direction "+strconv.Quote(arg))
		}
	case document.KindCoord:
		s.By = SortGeo
		if !strings.Contains(arg, "~") {
			arg += "~0"
		}
		g, err := parseOrigin(arg)
		if err != nil {
			return s, query.NewError(query.StatusBadSort, spec, err.Error())
		}
		s.Geo = g
	default:
		return s, query.NewError(query.StatusBadSort, spec, "field "+strconv.Quote(name)+" is not sortable")
	}
	return s, nil
}

func parseOrigin(arg string) (query.Geo, error) {
	point, radius, _ := strings.Cut(arg, "~")
	latS, lonS, ok := strings.Cut(point, "/")
	if !ok {
		return query.Geo{}, errOrigin(arg)
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	km, err3 := strconv.ParseFloat(radius, 64)
	if err1 != nil || err2 != nil || err3 != nil || km < 0 || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return query.Geo{}, errOrigin(arg)
	}
	return query.Geo{Lat: lat, Lon: lon, Km: km}, nil
}

func errOrigin(arg string) error { return fmt.Errorf("invalid sort origin %q", arg) }

// Hit is one ranked match.
type Hit struct {
	// SegIndex is the position of the segment in the evaluated reader list.
	SegIndex int
	Segment  uint64
	Doc      uint32
	Score    float32
	// Key is the column value or distance the hit was sorted by.
	Key float64
}

// before reports whether a ranks ahead of b under s.
func (s Sort) before(a, b Hit) bool {
	switch s.By {
	case SortScore:
		if a.Score != b.Score {
			return a.Score > b.Score
		}
	case SortColumn, SortGeo:
		if a.Key != b.Key {
			return (a.Key < b.Key) != s.Desc
		}
	}
	if a.SegIndex != b.SegIndex {
		return a.SegIndex < b.SegIndex
	}
	return a.Doc < b.Doc
}

// bucket keeps the best k hits. The heap root is the worst kept hit.
type bucket struct {
	k    int
	sort Sort
	hits []Hit
}

func newBucket(k int, s Sort) *bucket {
	return &bucket{k: k, sort: s, hits: make([]Hit, 0, max(0, min(k, 1024)))}
}

func (b *bucket) Len() int           { return len(b.hits) }
func (b *bucket) Less(i, j int) bool { return b.sort.before(b.hits[j], b.hits[i]) }
func (b *bucket) Swap(i, j int)      { b.hits[i], b.hits[j] = b.hits[j], b.hits[i] }
func (b *bucket) Push(x any)         { b.hits = append(b.hits, x.(Hit)) }
func (b *bucket) Pop() any {
	h := b.hits[len(b.hits)-1]
	b.hits = b.hits[:len(b.hits)-1]
	return h
}

func (b *bucket) full() bool { return len(b.hits) >= b.k }

func (b *bucket) add(h Hit) {
	switch {
	case b.k <= 0:
	case len(b.hits) < b.k:
		heap.Push(b, h)
	case b.sort.before(h, b.hits[0]):
		b.hits[0] = h
		heap.Fix(b, 0)
	}
}

// sorted drains the bucket best first.
func (b *bucket) sorted() []Hit {
	out := make([]Hit, len(b.hits))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(b).(Hit)
	}
	return out
}
