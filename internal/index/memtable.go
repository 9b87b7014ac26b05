package index

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/segment"
)

type termPostings struct {
	postings  []segment.Posting
	positions bool
}

type memColumn struct {
	width uint8
	data  []byte
}

// memTable buffers documents until the next commit. Terms are keyed by
// (ordinal, term) and written in one sorted pass.
type memTable struct {
	terms   map[segment.Key]*termPostings
	rows    []segment.Row
	columns map[segment.ColumnKey]*memColumn
	deleted *roaring.Bitmap
	ids     map[string]uint32
	bytes   int64
}

func newMemTable() *memTable {
	return &memTable{
		terms:   make(map[segment.Key]*termPostings),
		columns: make(map[segment.ColumnKey]*memColumn),
		deleted: roaring.New(),
		ids:     make(map[string]uint32),
	}
}

func (t *memTable) docCount() uint32 { return uint32(len(t.rows)) }

func (t *memTable) empty() bool { return len(t.rows) == 0 }

func (t *memTable) addRow(row segment.Row) uint32 {
	doc := uint32(len(t.rows))
	t.rows = append(t.rows, row)
	if row.ID != "" {
		t.ids[row.ID] = doc
	}
	t.bytes += int64(len(row.ID)+len(row.Payload)+len(row.Snippet)) + 48
	return doc
}

func (t *memTable) addPosting(key segment.Key, doc, freq uint32, positions []uint32) {
	tp, ok := t.terms[key]
	if !ok {
		tp = &termPostings{}
		t.terms[key] = tp
		t.bytes += int64(len(key.Term)) + 64
	}
	if n := len(tp.postings); n > 0 && tp.postings[n-1].Doc == doc {
		// A field repeated within one document keeps its first occurrence.
		return
	}
	if len(positions) > 0 {
		tp.positions = true
	}
	tp.postings = append(tp.postings, segment.Posting{Doc: doc, Freq: freq, Positions: positions})
	t.bytes += 16 + 4*int64(len(positions))
}

func (t *memTable) setColumn(key segment.ColumnKey, width uint8, doc uint32, value []byte) {
	c, ok := t.columns[key]
	if !ok {
		c = &memColumn{width: width}
		t.columns[key] = c
	}
	need := int(doc+1) * int(c.width)
	if len(c.data) < need {
		t.bytes += int64(need - len(c.data))
		c.data = append(c.data, make([]byte, need-len(c.data))...)
	}
	copy(c.data[int(doc)*int(c.width):need], value)
}

// deleteID marks the buffered copy of id deleted.
func (t *memTable) deleteID(id string) bool {
	doc, ok := t.ids[id]
	if !ok {
		return false
	}
	delete(t.ids, id)
	t.deleted.Add(doc)
	return true
}

// flush writes the buffer into w.
func (t *memTable) flush(w *segment.Writer) error {
	for _, row := range t.rows {
		if _, err := w.AddDocument(row); err != nil {
			return err
		}
	}

	keys := make([]segment.Key, 0, len(t.terms))
	for k := range t.terms {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, segment.Key.Compare)
	for _, k := range keys {
		tp := t.terms[k]
		if err := w.AddTerm(k, tp.postings, tp.positions); err != nil {
			return err
		}
	}

	for key, c := range t.columns {
		if err := w.SetColumn(key, c.width, c.data); err != nil {
			return err
		}
	}
	if !t.deleted.IsEmpty() {
		w.SetDeletions(t.deleted)
	}
	return nil
}
