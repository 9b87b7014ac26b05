package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/conv"
	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/internal/mmap"
	"github.com/hupe1980/lexgo/internal/resource"
)

// TermInfo is one decoded dictionary entry.
type TermInfo struct {
	Key
	DocFreq uint32

	off       uint64
	skipCount uint32
	docLen    uint32
	posLen    uint32
}

// Column is a read-only view of one sort-map column.
type Column struct {
	Width uint8
	data  []byte
}

// Raw returns the bytes of doc.
func (c Column) Raw(doc uint32) []byte {
	off := int(doc) * int(c.Width)
	if off+int(c.Width) > len(c.data) {
		return nil
	}
	return c.data[off : off+int(c.Width)]
}

// Uint returns the value of doc as an unsigned integer.
func (c Column) Uint(doc uint32) uint64 {
	b := c.Raw(doc)
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Int returns the value of doc sign-extended from the column width.
func (c Column) Int(doc uint32) int64 {
	b := c.Raw(doc)
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// Coord returns the fixed-point latitude and longitude of doc.
func (c Column) Coord(doc uint32) (int32, int32) {
	b := c.Raw(doc)
	if len(b) != 8 {
		return 0, 0
	}
	return int32(binary.LittleEndian.Uint32(b)), int32(binary.LittleEndian.Uint32(b[4:]))
}

// Reader gives read access to one segment.
type Reader struct {
	fs    fs.FileSystem
	dir   string
	id    uint64
	scope *resource.Scope

	idx, doc, srt *mmap.Mapping

	dict      []byte
	table     []byte
	termCount int

	compression Compression
	rows        []byte // row offset table
	docCount    uint32

	columns map[ColumnKey]Column

	mu         sync.RWMutex
	deleted    *roaring.Bitmap
	delModTime time.Time
	delSize    int64
	closed     bool
}

// Open maps the segment files. Open fails with ErrCorrupt when a required
// file is missing or fails validation; nothing stays open in that case.
// scope may be nil.
func Open(fsys fs.FileSystem, dir string, id uint64, scope *resource.Scope) (*Reader, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	r := &Reader{fs: fsys, dir: dir, id: id, scope: scope, columns: make(map[ColumnKey]Column)}

	var err error
	if r.idx, err = r.mapFile(ExtIndex); err == nil {
		if r.doc, err = r.mapFile(ExtDocs); err == nil {
			r.srt, err = r.mapFile(ExtSortMap)
		}
	}
	if err == nil {
		err = errors.Join(r.parseIndex(), r.parseDocs(), r.parseSortMap())
	}
	if err == nil {
		_, err = r.ReloadDeletions()
	}
	if err != nil {
		r.unmap()
		return nil, err
	}
	_ = r.idx.Advise(mmap.AccessRandom)
	return r, nil
}

func (r *Reader) mapFile(ext string) (*mmap.Mapping, error) {
	m, err := mmap.Open(Path(r.dir, r.id, ext))
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %w", ErrCorrupt, r.id, err)
	}
	return m, nil
}

func (r *Reader) parseIndex() error {
	data := r.idx.Bytes()
	if len(data) < 8+indexFooterSize || binary.LittleEndian.Uint32(data) != magicIndex {
		return corrupt(r.id, ExtIndex, "bad header")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != formatV1 {
		return corrupt(r.id, ExtIndex, "format version %d", v)
	}
	f := data[len(data)-indexFooterSize:]
	dictOff := binary.LittleEndian.Uint64(f)
	tableOff := binary.LittleEndian.Uint64(f[8:])
	count := binary.LittleEndian.Uint32(f[16:])
	sum := binary.LittleEndian.Uint32(f[20:])
	if binary.LittleEndian.Uint32(f[24:]) != magicIndex {
		return corrupt(r.id, ExtIndex, "bad footer")
	}
	end := uint64(len(data) - indexFooterSize)
	if dictOff > tableOff || tableOff > end || end-tableOff != 4*uint64(count) {
		return corrupt(r.id, ExtIndex, "bad dictionary bounds")
	}
	r.dict = data[dictOff:tableOff]
	r.table = data[tableOff:end]
	r.termCount = int(count)
	if crc32.ChecksumIEEE(r.dict) != sum {
		return corrupt(r.id, ExtIndex, "dictionary checksum mismatch")
	}
	return r.checkTable(dictOff)
}

// checkTable validates the offset table, which the dictionary checksum does
// not cover: offsets ascend, every entry decodes inside the dictionary and
// its postings end before it.
func (r *Reader) checkTable(postingsEnd uint64) error {
	prev := -1
	for i := 0; i < r.termCount; i++ {
		off := binary.LittleEndian.Uint32(r.table[4*i:])
		if int64(off) <= int64(prev) {
			return corrupt(r.id, ExtIndex, "dictionary offset %d out of order", i)
		}
		prev = int(off)
		ti, ok := decodeEntry(r.dict, off)
		if !ok {
			return corrupt(r.id, ExtIndex, "dictionary entry %d out of bounds", i)
		}
		if end, ok := ti.postingsEnd(); !ok || end > postingsEnd {
			return corrupt(r.id, ExtIndex, "postings of entry %d out of bounds", i)
		}
	}
	return nil
}

func (r *Reader) parseDocs() error {
	data := r.doc.Bytes()
	if len(data) < 12+docsFooterSize || binary.LittleEndian.Uint32(data) != magicDocs {
		return corrupt(r.id, ExtDocs, "bad header")
	}
	r.compression = Compression(binary.LittleEndian.Uint32(data[8:]))
	f := data[len(data)-docsFooterSize:]
	tableOff := binary.LittleEndian.Uint64(f)
	count := binary.LittleEndian.Uint32(f[8:])
	if binary.LittleEndian.Uint32(f[12:]) != magicDocs {
		return corrupt(r.id, ExtDocs, "bad footer")
	}
	end := uint64(len(data) - docsFooterSize)
	if tableOff > end || end-tableOff != 8*(uint64(count)+1) {
		return corrupt(r.id, ExtDocs, "bad row table")
	}
	r.rows = data[tableOff:end]
	r.docCount = count
	return nil
}

func (r *Reader) parseSortMap() error {
	data := r.srt.Bytes()
	if len(data) < 16 || binary.LittleEndian.Uint32(data) != magicSortMap {
		return corrupt(r.id, ExtSortMap, "bad header")
	}
	docCount := binary.LittleEndian.Uint32(data[8:])
	if r.doc != nil && docCount != r.docCount {
		return corrupt(r.id, ExtSortMap, "doc count %d, store has %d", docCount, r.docCount)
	}
	n := int(binary.LittleEndian.Uint32(data[12:]))
	if 16+n*colEntrySize > len(data) {
		return corrupt(r.id, ExtSortMap, "bad column directory")
	}
	for i := 0; i < n; i++ {
		e := data[16+i*colEntrySize:]
		key := ColumnKey{Ord: binary.LittleEndian.Uint16(e), Role: ColumnRole(e[2])}
		width := e[3]
		off := binary.LittleEndian.Uint64(e[4:])
		size := uint64(width) * uint64(docCount)
		if off+size > uint64(len(data)) {
			return corrupt(r.id, ExtSortMap, "column %d out of bounds", key.Ord)
		}
		r.columns[key] = Column{Width: width, data: data[off : off+size]}
	}
	return nil
}

// AdviseSequential hints that the segment is about to be read front to
// back, as a merge does.
func (r *Reader) AdviseSequential() {
	for _, m := range []*mmap.Mapping{r.idx, r.doc, r.srt} {
		_ = m.Advise(mmap.AccessSequential)
	}
}

// ID returns the segment id.
func (r *Reader) ID() uint64 { return r.id }

// Dir returns the backing directory.
func (r *Reader) Dir() string { return r.dir }

// Scope returns the buffer scope of the segment.
func (r *Reader) Scope() *resource.Scope { return r.scope }

// DocCount is the number of documents including deleted ones.
func (r *Reader) DocCount() uint32 { return r.docCount }

// TermCount is the number of dictionary entries.
func (r *Reader) TermCount() int { return r.termCount }

// Size is the total size of the mapped files.
func (r *Reader) Size() int64 {
	return int64(r.idx.Size() + r.doc.Size() + r.srt.Size())
}

func (r *Reader) entry(i int) TermInfo {
	ti, _ := decodeEntry(r.dict, binary.LittleEndian.Uint32(r.table[4*i:]))
	return ti
}

// decodeEntry parses the dictionary entry at off. ok is false when the
// entry runs past dict or a field overflows.
func decodeEntry(dict []byte, off uint32) (ti TermInfo, ok bool) {
	if uint64(off)+2 > uint64(len(dict)) {
		return ti, false
	}
	b := dict[off:]
	ti.Ord = binary.LittleEndian.Uint16(b)
	p := 2
	next := func() (uint64, bool) {
		v, n := binary.Uvarint(b[p:])
		if n <= 0 {
			return 0, false
		}
		p += n
		return v, true
	}

	l, ok := next()
	if !ok || l > uint64(len(b)-p) {
		return ti, false
	}
	ti.Term = string(b[p : p+int(l)])
	p += int(l)

	var v [5]uint64 // df, postings offset, skips, doc bytes, position bytes
	for i := range v {
		if v[i], ok = next(); !ok {
			return ti, false
		}
	}
	if v[0] > math.MaxUint32 || v[2] > math.MaxUint32 || v[3] > math.MaxUint32 || v[4] > math.MaxUint32 {
		return ti, false
	}
	ti.DocFreq = uint32(v[0])
	ti.off = v[1]
	ti.skipCount = uint32(v[2])
	ti.docLen = uint32(v[3])
	ti.posLen = uint32(v[4])
	return ti, true
}

// postingsEnd is the file offset after the postings of ti. ok is false on
// overflow.
func (ti TermInfo) postingsEnd() (uint64, bool) {
	end := ti.off
	for _, n := range []uint64{uint64(ti.skipCount) * skipEntrySize, uint64(ti.docLen), uint64(ti.posLen)} {
		if end+n < end {
			return 0, false
		}
		end += n
	}
	return end, true
}

func (r *Reader) keyAt(i int) Key {
	off := binary.LittleEndian.Uint32(r.table[4*i:])
	b := r.dict[off:]
	l, n := binary.Uvarint(b[2:])
	return Key{Ord: binary.LittleEndian.Uint16(b), Term: string(b[2+n : 2+n+int(l)])}
}

// lowerBound is the index of the first key >= k.
func (r *Reader) lowerBound(k Key) int {
	return sort.Search(r.termCount, func(i int) bool {
		return r.keyAt(i).Compare(k) >= 0
	})
}

// Lookup finds a term.
func (r *Reader) Lookup(ord uint16, term string) (TermInfo, bool) {
	k := Key{Ord: ord, Term: term}
	i := r.lowerBound(k)
	if i >= r.termCount || r.keyAt(i) != k {
		return TermInfo{}, false
	}
	return r.entry(i), true
}

// Postings opens a cursor over the postings of ti.
func (r *Reader) Postings(ti TermInfo) *Postings {
	data := r.idx.Bytes()
	start := ti.off
	skipEnd := start + uint64(ti.skipCount)*skipEntrySize
	docEnd := skipEnd + uint64(ti.docLen)
	posEnd, ok := ti.postingsEnd()
	if !ok || posEnd > uint64(len(data)) {
		return newPostings(nil, nil, nil, 0)
	}
	return newPostings(data[start:skipEnd], data[skipEnd:docEnd], data[docEnd:posEnd], ti.DocFreq)
}

// Terms calls fn for every term of ord starting with prefix, in order,
// until fn returns false.
func (r *Reader) Terms(ord uint16, prefix string, fn func(TermInfo) bool) {
	for i := r.lowerBound(Key{Ord: ord, Term: prefix}); i < r.termCount; i++ {
		k := r.keyAt(i)
		if k.Ord != ord || !strings.HasPrefix(k.Term, prefix) {
			return
		}
		if !fn(r.entry(i)) {
			return
		}
	}
}

// TermRange calls fn for every term of ord in [from, to] (empty bounds are
// open) until fn returns false.
func (r *Reader) TermRange(ord uint16, from, to string, fn func(TermInfo) bool) {
	for i := r.lowerBound(Key{Ord: ord, Term: from}); i < r.termCount; i++ {
		k := r.keyAt(i)
		if k.Ord != ord || (to != "" && k.Term > to) {
			return
		}
		if !fn(r.entry(i)) {
			return
		}
	}
}

// Dictionary iterates all entries in key order.
type Dictionary struct {
	r *Reader
	i int
}

// Dictionary returns an iterator positioned before the first entry.
func (r *Reader) Dictionary() *Dictionary { return &Dictionary{r: r, i: -1} }

// Next advances the iterator.
func (d *Dictionary) Next() bool {
	d.i++
	return d.i < d.r.termCount
}

// Entry returns the current entry.
func (d *Dictionary) Entry() TermInfo { return d.r.entry(d.i) }

// Key returns the key of the current entry without decoding the rest.
func (d *Dictionary) Key() Key { return d.r.keyAt(d.i) }

// Document decodes the stored row of doc. The decode buffer comes from slot
// when given; the returned row never aliases it.
func (r *Reader) Document(doc uint32, slot *resource.Slot) (Row, error) {
	if doc >= r.docCount {
		return Row{}, fmt.Errorf("segment %d: doc %d out of range", r.id, doc)
	}
	start := binary.LittleEndian.Uint64(r.rows[8*doc:])
	end := binary.LittleEndian.Uint64(r.rows[8*(doc+1):])
	data := r.doc.Bytes()
	if start > end || end > uint64(len(data)) {
		return Row{}, corrupt(r.id, ExtDocs, "row %d out of bounds", doc)
	}

	var buf []byte
	if slot != nil {
		if size := int(end - start); size >= blockHeaderSize {
			buf = slot.Buffer(int(binary.LittleEndian.Uint32(data[start:])))
		}
	}
	raw, err := readBlock(data[start:end], r.compression, buf)
	if err != nil {
		return Row{}, corrupt(r.id, ExtDocs, "row %d: %v", doc, err)
	}

	var row Row
	p := 0
	field := func() []byte {
		u, n := binary.Uvarint(raw[p:])
		l, convErr := conv.Uint64ToInt(u)
		if n <= 0 || convErr != nil || l > len(raw)-p-n {
			err = corrupt(r.id, ExtDocs, "row %d truncated", doc)
			return nil
		}
		p += n
		b := raw[p : p+l]
		p += l
		return b
	}
	row.ID = string(field())
	if err == nil {
		if payload := field(); len(payload) > 0 {
			row.Payload = append([]byte(nil), payload...)
		}
	}
	if err == nil {
		row.Snippet = string(field())
	}
	return row, err
}

// Column returns a sort-map column.
func (r *Reader) Column(key ColumnKey) (Column, bool) {
	c, ok := r.columns[key]
	return c, ok
}

// Columns returns every column key.
func (r *Reader) Columns() []ColumnKey {
	keys := make([]ColumnKey, 0, len(r.columns))
	for k := range r.columns {
		keys = append(keys, k)
	}
	return keys
}

// Norm returns the indexed term count of doc in field ord, 0 if unknown.
func (r *Reader) Norm(ord uint16, doc uint32) uint32 {
	c, ok := r.columns[ColumnKey{Ord: ord, Role: RoleNorm}]
	if !ok {
		return 0
	}
	return uint32(c.Uint(doc))
}

// Deleted returns the current deletion bitmap. The bitmap is replaced, never
// modified, so callers may read it without locking.
func (r *Reader) Deleted() *roaring.Bitmap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted
}

// IsDeleted reports whether doc is deleted.
func (r *Reader) IsDeleted(doc uint32) bool {
	return r.Deleted().Contains(doc)
}

// LiveCount is the number of documents not deleted.
func (r *Reader) LiveCount() uint32 {
	return r.docCount - uint32(r.Deleted().GetCardinality())
}

// ReloadDeletions rereads the deletion bitmap when its file changed.
func (r *Reader) ReloadDeletions() (bool, error) {
	path := Path(r.dir, r.id, ExtDeletions)
	fi, err := r.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		r.mu.Lock()
		defer r.mu.Unlock()
		changed := r.deleted == nil || !r.deleted.IsEmpty()
		r.deleted, r.delModTime, r.delSize = roaring.New(), time.Time{}, 0
		return changed, nil
	}
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	same := r.deleted != nil && fi.ModTime().Equal(r.delModTime) && fi.Size() == r.delSize
	r.mu.RUnlock()
	if same {
		return false, nil
	}

	rb, err := r.readDeletions(path)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.deleted == nil || !rb.Equals(r.deleted)
	r.deleted, r.delModTime, r.delSize = rb, fi.ModTime(), fi.Size()
	return changed, nil
}

func (r *Reader) readDeletions(path string) (*roaring.Bitmap, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, err
	}
	rb := roaring.New()
	if len(data) > 0 {
		if err := rb.UnmarshalBinary(data); err != nil {
			return nil, corrupt(r.id, ExtDeletions, "%v", err)
		}
	}
	return rb, nil
}

// Delete marks docs as deleted and rewrites the deletion file atomically.
// The file is reread first so deletions made by other processes survive.
// It returns the number of newly deleted documents.
func (r *Reader) Delete(docs *roaring.Bitmap) (int, error) {
	if docs == nil || docs.IsEmpty() {
		return 0, nil
	}
	if r.scope != nil {
		r.scope.Lock()
		defer r.scope.Unlock()
	}
	if _, err := r.ReloadDeletions(); err != nil {
		return 0, err
	}

	current := r.Deleted()
	next := current.Clone()
	next.Or(docs)
	next.RemoveRange(uint64(r.docCount), 1<<32)
	added := int(next.GetCardinality() - current.GetCardinality())
	if added == 0 {
		return 0, nil
	}

	data, err := next.ToBytes()
	if err != nil {
		return 0, err
	}
	path := Path(r.dir, r.id, ExtDeletions)
	tmp := path + ".tmp"
	if err := fs.WriteFileSync(r.fs, tmp, data); err != nil {
		_ = r.fs.Remove(tmp)
		return 0, err
	}
	if err := r.fs.Rename(tmp, path); err != nil {
		_ = r.fs.Remove(tmp)
		return 0, err
	}
	fi, err := r.fs.Stat(path)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.deleted, r.delModTime, r.delSize = next, fi.ModTime(), fi.Size()
	r.mu.Unlock()
	return added, nil
}

// Close unmaps the segment files.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.unmap()
}

func (r *Reader) unmap() error {
	var errs []error
	for _, m := range []*mmap.Mapping{r.idx, r.doc, r.srt} {
		if m != nil {
			errs = append(errs, m.Close())
		}
	}
	return errors.Join(errs...)
}

// Remove deletes every file of segment id in dir. Missing files are ignored.
func Remove(fsys fs.FileSystem, dir string, id uint64) error {
	if fsys == nil {
		fsys = fs.Default
	}
	var errs []error
	for _, ext := range Extensions {
		if err := fsys.Remove(Path(dir, id, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
