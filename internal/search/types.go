package search

import (
	"time"

	"github.com/hupe1980/lexgo/internal/eval"
)

// State is the lifecycle state of a Searcher.
type State int32

const (
	StateInit State = iota
	StateActive
	StateRefreshing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultLimit is the page size of requests that leave Limit unset.
const DefaultLimit = 10

// Request is one search.
type Request struct {
	Query  string
	Offset int
	Limit  int
	// Sort is a sort specification, see eval.ParseSort.
	Sort string
	// SnippetLength truncates stored snippets to this many runes. Zero
	// returns them whole.
	SnippetLength int
	// Fields lists numeric, bit or coord fields whose values are returned
	// with each row.
	Fields []string
	Lang   string
	// Analyze runs query terms through the analyzer. Nil means true.
	Analyze *bool
	// LimitWindow caps Offset+Limit. Zero selects the searcher default.
	LimitWindow   int
	EstimateTotal bool
}

func (r *Request) analyze() bool { return r.Analyze == nil || *r.Analyze }

// Response is the outcome of a search. Status mirrors HTTP codes.
type Response struct {
	Status     int
	Total      uint64
	Estimated  bool
	Elapsed    time.Duration
	Highlights []string
	Rows       []Row
}

// Row is one returned document.
type Row struct {
	ID      string
	Score   float32
	Payload []byte
	Snippet string
	// Distance is set in kilometres when sorting by a coordinate.
	Distance float64
	// Values holds the requested Fields: int64 for numeric, uint64 for bit
	// and Point for coord fields. Missing values are omitted.
	Values map[string]any
}

// Point is a decoded coordinate.
type Point struct {
	Lat, Lon float64
}

// Stats describes the loaded snapshot.
type Stats struct {
	Segments        int
	Docs            uint64
	Deleted         uint64
	Bytes           int64 // size of the live segment files
	Fields          int
	CacheHits       int64
	CacheMisses     int64
	ManifestVersion uint64
	// MemoryUsed is held by indexing buffers and cached results. MemoryLimit
	// is zero when unlimited.
	MemoryUsed  int64
	MemoryLimit int64
}

// cached is a result bucket together with the window it was computed for.
type cached struct {
	res    *eval.Result
	window int
	gen    uint64
}

// covers reports whether c can serve a window of size window.
func (c *cached) covers(window int, estimate bool, gen uint64) bool {
	if c.gen != gen {
		return false
	}
	if c.res.Estimated && !estimate {
		return false
	}
	return c.window >= window || len(c.res.Hits) < c.window
}

func (c *cached) size() int64 {
	n := int64(len(c.res.Hits)) * 40
	for _, h := range c.res.Highlights {
		n += int64(len(h)) + 16
	}
	return n + 128
}
