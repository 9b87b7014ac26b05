package search

import (
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/eval"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

// rows decodes the stored documents of hits. Every segment directory lends
// this query one decode buffer for the duration of the call.
func (s *Searcher) rows(snap *snapshot, hits []eval.Hit, srt eval.Sort, req *Request) []Row {
	if len(hits) == 0 {
		return nil
	}
	sess := s.ectx.Buffers.NewSession()
	defer sess.Close()

	out := make([]Row, 0, len(hits))
	for _, h := range hits {
		if h.SegIndex >= len(snap.readers) || snap.readers[h.SegIndex].ID() != h.Segment {
			continue
		}
		r := snap.readers[h.SegIndex]
		var slot *resource.Slot
		if sc := r.Scope(); sc != nil {
			slot = sess.Slot(sc)
		}
		doc, err := r.Document(h.Doc, slot)
		if err != nil {
			s.logger.Warn("read document", "segment", r.ID(), "doc", h.Doc, "error", err)
			continue
		}
		row := Row{
			ID:      doc.ID,
			Score:   h.Score,
			Payload: doc.Payload,
			Snippet: truncate(doc.Snippet, req.SnippetLength),
		}
		if srt.By == eval.SortGeo {
			row.Distance = h.Key
		}
		if len(req.Fields) > 0 {
			row.Values = values(snap.man, r, h.Doc, req.Fields)
		}
		out = append(out, row)
	}
	return out
}

func values(m *manifest.Manifest, r *segment.Reader, doc uint32, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, name := range fields {
		fi, ok := m.Field(name)
		if !ok {
			continue
		}
		col, ok := r.Column(segment.ColumnKey{Ord: fi.Ordinal})
		if !ok {
			continue
		}
		switch fi.Type.Kind {
		case document.KindNumeric:
			out[name] = col.Int(doc)
		case document.KindBit:
			out[name] = col.Uint(doc)
		case document.KindCoord:
			lat, lon := eval.Point(col, fi.Type, doc)
			out[name] = Point{Lat: lat, Lon: lon}
		}
	}
	return out
}

// truncate cuts s to at most n runes, preferring the last word boundary.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if n == 0 {
			cut = i
			break
		}
		n--
	}
	head := s[:cut]
	if i := strings.LastIndexByte(head, ' '); i > len(head)/2 {
		head = head[:i]
	}
	return strings.TrimRight(head, " ") + "…"
}
