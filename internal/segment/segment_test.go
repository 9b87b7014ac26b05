package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/internal/resource"
)

func writeSample(t *testing.T, dir string, id uint64, c Compression) Info {
	t.Helper()
	w, err := Create(nil, dir, id, WriterOptions{Compression: c})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		_, err := w.AddDocument(Row{
			ID:      fmt.Sprintf("doc-%d", i),
			Payload: []byte(fmt.Sprintf(`{"n":%d,"text":"some repeated payload text some repeated payload text"}`, i)),
			Snippet: "red shoes",
		})
		require.NoError(t, err)
	}

	every := make([]Posting, 0, 200)
	for i := uint32(0); i < 200; i++ {
		every = append(every, Posting{Doc: i, Freq: 2, Positions: []uint32{i, i + 3}})
	}
	require.NoError(t, w.AddTerm(Key{Ord: 0, Term: "red"}, every, true))
	require.NoError(t, w.AddTerm(Key{Ord: 0, Term: "shoes"}, []Posting{{Doc: 1, Freq: 1, Positions: []uint32{4}}, {Doc: 150, Freq: 1, Positions: []uint32{0}}}, true))
	require.NoError(t, w.AddTerm(Key{Ord: 0, Term: "shop"}, []Posting{{Doc: 7, Freq: 3}}, false))
	require.NoError(t, w.AddTerm(Key{Ord: 1, Term: "blue"}, []Posting{{Doc: 3, Freq: 1}}, false))

	price := make([]byte, 0, 4*200)
	norms := make([]byte, 0, 2*200)
	for i := 0; i < 200; i++ {
		price = binary.LittleEndian.AppendUint32(price, uint32(int32(i-100)))
		norms = binary.LittleEndian.AppendUint16(norms, uint16(i%5))
	}
	require.NoError(t, w.SetColumn(ColumnKey{Ord: 2}, 4, price))
	require.NoError(t, w.SetColumn(ColumnKey{Ord: 0, Role: RoleNorm}, 2, norms))

	loc := binary.LittleEndian.AppendUint32(nil, uint32(int32(40_000_000)))
	lon := int32(-74_000_000)
	loc = binary.LittleEndian.AppendUint32(loc, uint32(lon))
	require.NoError(t, w.SetColumn(ColumnKey{Ord: 3}, 8, loc)) // only doc 0 set, padded

	del := roaring.New()
	del.Add(5)
	w.SetDeletions(del)

	info, err := w.Finish()
	require.NoError(t, err)
	return info
}

func TestWriteRead(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(fmt.Sprintf("compression=%d", c), func(t *testing.T) {
			dir := t.TempDir()
			info := writeSample(t, dir, 7, c)
			assert.Equal(t, uint64(7), info.ID)
			assert.Equal(t, uint32(200), info.DocCount)
			assert.Positive(t, info.Size)

			pool := resource.NewBufferPool(0)
			r, err := Open(nil, dir, 7, pool.Scope(dir))
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, uint32(200), r.DocCount())
			assert.Equal(t, uint32(199), r.LiveCount())
			assert.True(t, r.IsDeleted(5))
			assert.Equal(t, 4, r.TermCount())

			session := pool.NewSession()
			defer session.Close()
			row, err := r.Document(42, session.Slot(r.Scope()))
			require.NoError(t, err)
			assert.Equal(t, "doc-42", row.ID)
			assert.Contains(t, string(row.Payload), `"n":42`)
			assert.Equal(t, "red shoes", row.Snippet)

			row, err = r.Document(43, nil)
			require.NoError(t, err)
			assert.Equal(t, "doc-43", row.ID)

			_, err = r.Document(200, nil)
			assert.Error(t, err)
		})
	}
}

func TestPostingsCursor(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, 1, CompressionNone)
	r, err := Open(nil, dir, 1, nil)
	require.NoError(t, err)
	defer r.Close()

	ti, ok := r.Lookup(0, "red")
	require.True(t, ok)
	assert.Equal(t, uint32(200), ti.DocFreq)

	t.Run("sequential with positions", func(t *testing.T) {
		p := r.Postings(ti)
		assert.True(t, p.HasPositions())
		var n uint32
		for p.Next() {
			assert.Equal(t, n, p.Doc())
			assert.Equal(t, uint32(2), p.Freq())
			if n%3 == 0 {
				assert.Equal(t, []uint32{n, n + 3}, p.Positions(nil))
			}
			n++
		}
		assert.Equal(t, uint32(200), n)
		assert.False(t, p.Err())
	})

	t.Run("advance across skips", func(t *testing.T) {
		p := r.Postings(ti)
		require.True(t, p.Advance(130))
		assert.Equal(t, uint32(130), p.Doc())
		assert.Equal(t, []uint32{130, 133}, p.Positions(nil))
		require.True(t, p.Advance(131))
		assert.Equal(t, uint32(131), p.Doc())
		require.True(t, p.Advance(70))
		assert.Equal(t, uint32(131), p.Doc(), "advance never moves backwards")
		require.True(t, p.Next())
		assert.Equal(t, uint32(132), p.Doc())
		assert.Equal(t, []uint32{132, 135}, p.Positions(nil))
		assert.False(t, p.Advance(500))
	})

	t.Run("sparse term", func(t *testing.T) {
		ti, ok := r.Lookup(0, "shoes")
		require.True(t, ok)
		p := r.Postings(ti)
		require.True(t, p.Advance(2))
		assert.Equal(t, uint32(150), p.Doc())
		assert.Equal(t, []uint32{0}, p.Positions(nil))
	})

	t.Run("frequency only", func(t *testing.T) {
		ti, ok := r.Lookup(0, "shop")
		require.True(t, ok)
		p := r.Postings(ti)
		assert.False(t, p.HasPositions())
		require.True(t, p.Next())
		assert.Equal(t, uint32(3), p.Freq())
		assert.Empty(t, p.Positions(nil))
	})

	_, ok = r.Lookup(0, "green")
	assert.False(t, ok)
	_, ok = r.Lookup(1, "red")
	assert.False(t, ok)
}

func TestTermIteration(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, 1, CompressionNone)
	r, err := Open(nil, dir, 1, nil)
	require.NoError(t, err)
	defer r.Close()

	var got []string
	r.Terms(0, "sho", func(ti TermInfo) bool {
		got = append(got, ti.Term)
		return true
	})
	assert.Equal(t, []string{"shoes", "shop"}, got)

	got = got[:0]
	r.TermRange(0, "s", "shoes", func(ti TermInfo) bool {
		got = append(got, ti.Term)
		return true
	})
	assert.Equal(t, []string{"shoes"}, got)

	var keys []Key
	d := r.Dictionary()
	for d.Next() {
		keys = append(keys, d.Key())
		assert.Equal(t, d.Key(), d.Entry().Key)
	}
	assert.Equal(t, []Key{{0, "red"}, {0, "shoes"}, {0, "shop"}, {1, "blue"}}, keys)
}

func TestColumns(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, 1, CompressionNone)
	r, err := Open(nil, dir, 1, nil)
	require.NoError(t, err)
	defer r.Close()

	price, ok := r.Column(ColumnKey{Ord: 2})
	require.True(t, ok)
	assert.Equal(t, int64(-100), price.Int(0))
	assert.Equal(t, int64(99), price.Int(199))
	assert.Equal(t, int64(0), price.Int(500))

	loc, ok := r.Column(ColumnKey{Ord: 3})
	require.True(t, ok)
	lat, lon := loc.Coord(0)
	assert.Equal(t, int32(40_000_000), lat)
	assert.Equal(t, int32(-74_000_000), lon)
	lat, lon = loc.Coord(1)
	assert.Zero(t, lat)
	assert.Zero(t, lon)

	assert.Equal(t, uint32(3), r.Norm(0, 8))
	assert.Equal(t, uint32(0), r.Norm(1, 8))
	assert.Len(t, r.Columns(), 3)
}

func TestDeleteAndReload(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, 1, CompressionNone)
	pool := resource.NewBufferPool(0)

	a, err := Open(nil, dir, 1, pool.Scope(dir))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(nil, dir, 1, pool.Scope(dir))
	require.NoError(t, err)
	defer b.Close()

	n, err := a.Delete(roaring.BitmapOf(5, 6, 7, 1000))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "already deleted and out of range docs are not counted")

	n, err = a.Delete(roaring.BitmapOf(6))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Make sure the other reader observes a different mtime.
	time.Sleep(10 * time.Millisecond)
	n, err = b.Delete(roaring.BitmapOf(9))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, b.IsDeleted(6), "delete rereads the file before merging")

	changed, err := a.ReloadDeletions()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, a.IsDeleted(9))
	assert.Equal(t, uint32(196), a.LiveCount())

	changed, err = a.ReloadDeletions()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestOpenAllOrNothing(t *testing.T) {
	for _, ext := range []string{ExtIndex, ExtDocs, ExtSortMap} {
		t.Run("missing "+ext, func(t *testing.T) {
			dir := t.TempDir()
			writeSample(t, dir, 1, CompressionNone)
			require.NoError(t, os.Remove(Path(dir, 1, ext)))
			_, err := Open(nil, dir, 1, nil)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}

	t.Run("missing deletions is fine", func(t *testing.T) {
		dir := t.TempDir()
		writeSample(t, dir, 1, CompressionNone)
		require.NoError(t, os.Remove(Path(dir, 1, ExtDeletions)))
		r, err := Open(nil, dir, 1, nil)
		require.NoError(t, err)
		defer r.Close()
		assert.Equal(t, uint32(200), r.LiveCount())
	})

	t.Run("truncated index", func(t *testing.T) {
		dir := t.TempDir()
		writeSample(t, dir, 1, CompressionNone)
		path := Path(dir, 1, ExtIndex)
		fi, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, fi.Size()-3))
		_, err = Open(nil, dir, 1, nil)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("flipped dictionary byte", func(t *testing.T) {
		dir := t.TempDir()
		writeSample(t, dir, 1, CompressionNone)
		path := Path(dir, 1, ExtIndex)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		dictOff := binary.LittleEndian.Uint64(data[len(data)-indexFooterSize:])
		data[dictOff+3] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0o644))
		_, err = Open(nil, dir, 1, nil)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	// The offset table is outside the dictionary checksum.
	tableCases := map[string]func(table []byte){
		"table offset past dictionary": func(table []byte) {
			binary.LittleEndian.PutUint32(table[4:], 0xFFFFFFF0)
		},
		"table offsets out of order": func(table []byte) {
			first := binary.LittleEndian.Uint32(table)
			binary.LittleEndian.PutUint32(table[4:], first)
		},
	}
	for name, mutate := range tableCases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeSample(t, dir, 1, CompressionNone)
			path := Path(dir, 1, ExtIndex)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			footer := data[len(data)-indexFooterSize:]
			tableOff := binary.LittleEndian.Uint64(footer[8:])
			mutate(data[tableOff : len(data)-indexFooterSize])
			require.NoError(t, os.WriteFile(path, data, 0o644))

			require.NotPanics(t, func() {
				_, err = Open(nil, dir, 1, nil)
			})
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestWriterErrors(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(nil, dir, 1, WriterOptions{})
	require.NoError(t, err)

	require.NoError(t, w.AddTerm(Key{Ord: 1, Term: "b"}, []Posting{{Doc: 0, Freq: 1}}, false))
	err = w.AddTerm(Key{Ord: 1, Term: "a"}, []Posting{{Doc: 0, Freq: 1}}, false)
	assert.ErrorIs(t, err, ErrOutOfOrder)
	err = w.AddTerm(Key{Ord: 0, Term: "z"}, []Posting{{Doc: 0, Freq: 1}}, false)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = Create(nil, dir, 1, WriterOptions{})
	assert.ErrorIs(t, err, os.ErrExist)

	w.Abort()
	for _, ext := range Extensions {
		_, err := os.Stat(Path(dir, 1, ext))
		assert.True(t, os.IsNotExist(err), ext)
	}
	_, err = w.AddDocument(Row{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriterSyncFailureRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".srt", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	w, err := Create(ffs, dir, 3, WriterOptions{})
	require.NoError(t, err)
	_, err = w.AddDocument(Row{ID: "x"})
	require.NoError(t, err)

	_, err = w.Finish()
	assert.ErrorIs(t, err, fs.ErrInjected)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmptySegment(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(nil, dir, 9, WriterOptions{Compression: CompressionZSTD})
	require.NoError(t, err)
	info, err := w.Finish()
	require.NoError(t, err)
	assert.Zero(t, info.DocCount)

	r, err := Open(nil, dir, 9, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Zero(t, r.TermCount())
	assert.False(t, r.Dictionary().Next())

	require.NoError(t, r.Close())
	require.NoError(t, Remove(nil, dir, 9))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "12.idx", FileName(12, ExtIndex))
	assert.Equal(t, filepath.Join("d", "3.del"), Path("d", 3, ExtDeletions))

	id, ext, ok := ParseFileName("42.srt")
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, ExtSortMap, ext)

	for _, name := range []string{"MANIFEST", "x.idx", "42.tmp", "using-12", "index.lock"} {
		_, _, ok := ParseFileName(name)
		assert.False(t, ok, name)
	}

	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
