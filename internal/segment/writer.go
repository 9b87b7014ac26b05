package segment

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexgo/internal/conv"
	"github.com/hupe1980/lexgo/internal/fs"
)

// WriterOptions configure a segment writer.
type WriterOptions struct {
	Compression Compression
	// Wrap, if set, wraps the buffered file writers, e.g. for rate limiting.
	Wrap func(io.Writer) io.Writer
}

type column struct {
	key   ColumnKey
	width uint8
	data  []byte
}

// Writer creates one segment. Terms must be added in Key order and
// documents are numbered in the order they are added.
type Writer struct {
	fsys fs.FileSystem
	dir  string
	id   uint64
	opts WriterOptions

	idxFile, docFile fs.File
	idx, doc         *bufio.Writer
	idxOut, docOut   io.Writer
	idxOff, docOff   uint64

	dict    bytes.Buffer
	entries []uint32
	lastKey Key
	hasKey  bool

	rowOffsets []uint64
	rowBuf     []byte
	blockBuf   []byte

	columns map[ColumnKey]*column
	deleted *roaring.Bitmap

	done bool
}

// Create starts a new segment id in dir.
func Create(fsys fs.FileSystem, dir string, id uint64, opts WriterOptions) (*Writer, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	w := &Writer{
		fsys:    fsys,
		dir:     dir,
		id:      id,
		opts:    opts,
		columns: make(map[ColumnKey]*column),
	}

	var err error
	if w.idxFile, err = fsys.OpenFile(Path(dir, id, ExtIndex), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err != nil {
		return nil, err
	}
	if w.docFile, err = fsys.OpenFile(Path(dir, id, ExtDocs), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err != nil {
		w.Abort()
		return nil, err
	}
	w.idx = bufio.NewWriterSize(w.idxFile, 64<<10)
	w.doc = bufio.NewWriterSize(w.docFile, 64<<10)
	w.idxOut, w.docOut = io.Writer(w.idx), io.Writer(w.doc)
	if opts.Wrap != nil {
		w.idxOut, w.docOut = opts.Wrap(w.idx), opts.Wrap(w.doc)
	}

	header := make([]byte, 0, 12)
	header = binary.LittleEndian.AppendUint32(header, magicIndex)
	header = binary.LittleEndian.AppendUint32(header, formatV1)
	if err := w.writeIdx(header); err != nil {
		w.Abort()
		return nil, err
	}
	header = header[:0]
	header = binary.LittleEndian.AppendUint32(header, magicDocs)
	header = binary.LittleEndian.AppendUint32(header, formatV1)
	header = binary.LittleEndian.AppendUint32(header, uint32(opts.Compression))
	if err := w.writeDoc(header); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// ID returns the segment id.
func (w *Writer) ID() uint64 { return w.id }

// DocCount is the number of documents added so far.
func (w *Writer) DocCount() uint32 { return uint32(len(w.rowOffsets)) }

func (w *Writer) writeIdx(p []byte) error {
	n, err := w.idxOut.Write(p)
	w.idxOff += uint64(n)
	return err
}

func (w *Writer) writeDoc(p []byte) error {
	n, err := w.docOut.Write(p)
	w.docOff += uint64(n)
	return err
}

// AddTerm writes the postings of one term. Postings must be sorted by doc
// and positions are kept only when withPositions is set.
func (w *Writer) AddTerm(key Key, postings []Posting, withPositions bool) error {
	if w.done {
		return ErrClosed
	}
	if w.hasKey && key.Compare(w.lastKey) <= 0 {
		return fmt.Errorf("%w: term %d/%q after %d/%q", ErrOutOfOrder, key.Ord, key.Term, w.lastKey.Ord, w.lastKey.Term)
	}
	if len(postings) == 0 {
		return nil
	}
	w.lastKey, w.hasKey = key, true

	block, skipCount, docLen, posLen := encodePostings(nil, postings, withPositions)
	off := w.idxOff
	if err := w.writeIdx(block); err != nil {
		return err
	}

	w.entries = append(w.entries, uint32(w.dict.Len()))
	e := make([]byte, 0, 32+len(key.Term))
	e = binary.LittleEndian.AppendUint16(e, key.Ord)
	e = binary.AppendUvarint(e, uint64(len(key.Term)))
	e = append(e, key.Term...)
	e = binary.AppendUvarint(e, uint64(len(postings)))
	e = binary.AppendUvarint(e, off)
	e = binary.AppendUvarint(e, uint64(skipCount))
	e = binary.AppendUvarint(e, uint64(docLen))
	e = binary.AppendUvarint(e, uint64(posLen))
	w.dict.Write(e)
	return nil
}

// AddDocument stores a row and returns its docID.
func (w *Writer) AddDocument(row Row) (uint32, error) {
	if w.done {
		return 0, ErrClosed
	}
	w.rowBuf = w.rowBuf[:0]
	w.rowBuf = binary.AppendUvarint(w.rowBuf, uint64(len(row.ID)))
	w.rowBuf = append(w.rowBuf, row.ID...)
	w.rowBuf = binary.AppendUvarint(w.rowBuf, uint64(len(row.Payload)))
	w.rowBuf = append(w.rowBuf, row.Payload...)
	w.rowBuf = binary.AppendUvarint(w.rowBuf, uint64(len(row.Snippet)))
	w.rowBuf = append(w.rowBuf, row.Snippet...)

	docID, err := conv.IntToUint32(len(w.rowOffsets))
	if err != nil {
		return 0, fmt.Errorf("segment: document count: %w", err)
	}
	w.blockBuf, err = appendBlock(w.blockBuf[:0], w.rowBuf, w.opts.Compression)
	if err != nil {
		return 0, err
	}
	w.rowOffsets = append(w.rowOffsets, w.docOff)
	if err := w.writeDoc(w.blockBuf); err != nil {
		return 0, err
	}
	return docID, nil
}

// SetColumn stores a fixed-width column. data holds width bytes per document
// and is padded or truncated to the final document count.
func (w *Writer) SetColumn(key ColumnKey, width uint8, data []byte) error {
	if w.done {
		return ErrClosed
	}
	if width == 0 {
		return fmt.Errorf("segment: column %d has zero width", key.Ord)
	}
	w.columns[key] = &column{key: key, width: width, data: data}
	return nil
}

// SetDeletions records documents deleted before the segment is published.
func (w *Writer) SetDeletions(rb *roaring.Bitmap) { w.deleted = rb }

// Finish writes the remaining structures, fsyncs all four files and returns
// the segment summary. On error the partial files are removed.
func (w *Writer) Finish() (Info, error) {
	if w.done {
		return Info{}, ErrClosed
	}
	info, err := w.finish()
	if err != nil {
		w.Abort()
		return Info{}, err
	}
	w.done = true
	return info, nil
}

func (w *Writer) finish() (Info, error) {
	docCount := uint32(len(w.rowOffsets))

	// .idx: dictionary, entry table, footer.
	dictOff := w.idxOff
	dict := w.dict.Bytes()
	if err := w.writeIdx(dict); err != nil {
		return Info{}, err
	}
	tableOff := w.idxOff
	table := make([]byte, 0, 4*len(w.entries))
	for _, e := range w.entries {
		table = binary.LittleEndian.AppendUint32(table, e)
	}
	if err := w.writeIdx(table); err != nil {
		return Info{}, err
	}
	footer := make([]byte, 0, indexFooterSize)
	footer = binary.LittleEndian.AppendUint64(footer, dictOff)
	footer = binary.LittleEndian.AppendUint64(footer, tableOff)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(w.entries)))
	footer = binary.LittleEndian.AppendUint32(footer, crc32.ChecksumIEEE(dict))
	footer = binary.LittleEndian.AppendUint32(footer, magicIndex)
	if err := w.writeIdx(footer); err != nil {
		return Info{}, err
	}

	// .doc: row offsets (plus end sentinel), footer.
	rowTableOff := w.docOff
	rows := make([]byte, 0, 8*(len(w.rowOffsets)+1))
	for _, off := range w.rowOffsets {
		rows = binary.LittleEndian.AppendUint64(rows, off)
	}
	rows = binary.LittleEndian.AppendUint64(rows, rowTableOff)
	if err := w.writeDoc(rows); err != nil {
		return Info{}, err
	}
	footer = footer[:0]
	footer = binary.LittleEndian.AppendUint64(footer, rowTableOff)
	footer = binary.LittleEndian.AppendUint32(footer, docCount)
	footer = binary.LittleEndian.AppendUint32(footer, magicDocs)
	if err := w.writeDoc(footer); err != nil {
		return Info{}, err
	}

	if err := w.idx.Flush(); err != nil {
		return Info{}, err
	}
	if err := w.doc.Flush(); err != nil {
		return Info{}, err
	}

	srtSize, err := w.writeSortMap(docCount)
	if err != nil {
		return Info{}, err
	}
	delSize, err := w.writeDeletions()
	if err != nil {
		return Info{}, err
	}

	for _, f := range []fs.File{w.idxFile, w.docFile} {
		if err := f.Sync(); err != nil {
			return Info{}, err
		}
	}
	errIdx, errDoc := w.idxFile.Close(), w.docFile.Close()
	w.idxFile, w.docFile = nil, nil
	if err := errors.Join(errIdx, errDoc); err != nil {
		return Info{}, err
	}
	if err := fs.SyncDir(w.fsys, w.dir); err != nil {
		return Info{}, err
	}

	return Info{
		ID:       w.id,
		DocCount: docCount,
		Size:     int64(w.idxOff+w.docOff) + srtSize + delSize,
	}, nil
}

func (w *Writer) writeSortMap(docCount uint32) (int64, error) {
	cols := make([]*column, 0, len(w.columns))
	for _, c := range w.columns {
		cols = append(cols, c)
	}
	slices.SortFunc(cols, func(a, b *column) int {
		if a.key.Ord != b.key.Ord {
			return int(a.key.Ord) - int(b.key.Ord)
		}
		return int(a.key.Role) - int(b.key.Role)
	})

	headerLen := 16 + colEntrySize*len(cols)
	buf := make([]byte, 0, headerLen)
	buf = binary.LittleEndian.AppendUint32(buf, magicSortMap)
	buf = binary.LittleEndian.AppendUint32(buf, formatV1)
	buf = binary.LittleEndian.AppendUint32(buf, docCount)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cols)))

	off := uint64(headerLen)
	for _, c := range cols {
		buf = binary.LittleEndian.AppendUint16(buf, c.key.Ord)
		buf = append(buf, byte(c.key.Role), c.width)
		buf = binary.LittleEndian.AppendUint64(buf, off)
		off += uint64(c.width) * uint64(docCount)
	}
	for _, c := range cols {
		size := int(c.width) * int(docCount)
		data := c.data
		if len(data) > size {
			data = data[:size]
		}
		buf = append(buf, data...)
		for pad := size - len(data); pad > 0; pad-- {
			buf = append(buf, 0)
		}
	}
	return int64(len(buf)), w.writeFile(ExtSortMap, buf)
}

func (w *Writer) writeDeletions() (int64, error) {
	rb := w.deleted
	if rb == nil {
		rb = roaring.New()
	}
	data, err := rb.ToBytes()
	if err != nil {
		return 0, err
	}
	return int64(len(data)), w.writeFile(ExtDeletions, data)
}

func (w *Writer) writeFile(ext string, data []byte) error {
	f, err := w.fsys.OpenFile(Path(w.dir, w.id, ext), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	var out io.Writer = f
	if w.opts.Wrap != nil {
		out = w.opts.Wrap(f)
	}
	if _, err := out.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Abort closes and removes everything written so far.
func (w *Writer) Abort() {
	if w.idxFile != nil {
		_ = w.idxFile.Close()
		w.idxFile = nil
	}
	if w.docFile != nil {
		_ = w.docFile.Close()
		w.docFile = nil
	}
	for _, ext := range Extensions {
		_ = w.fsys.Remove(Path(w.dir, w.id, ext))
	}
	w.done = true
}
