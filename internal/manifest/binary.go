package manifest

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/hupe1980/lexgo/document"
)

const (
	binaryMagic   = 0x4C58474D // "LXGM"
	binaryVersion = 1
	headerSize    = 16
)

// WriteBinary writes the manifest in binary format.
// Format:
// Magic (4 bytes)
// FormatVersion (4 bytes)
// Checksum (4 bytes) - CRC32 of payload
// PayloadLength (4 bytes)
// Payload:
//
//	Version (8 bytes)
//	CreatedAt (8 bytes) - UnixNano
//	NextSegmentID (8 bytes)
//	NextOrdinal (2 bytes)
//	TotalDocs (8 bytes)
//	PrimaryKey (string)
//	NumSegments (4 bytes)
//	Segments...
//	  ID (8 bytes)
//	  DocCount (4 bytes)
//	  Dir (4 bytes)
//	  Size (8 bytes)
//	NumFields (4 bytes)
//	Fields...
//	  Name (string)
//	  Kind, Width, Precision (1 byte each)
//	  Ordinal (2 bytes)
//	  Weight (4 bytes) - float32 bits
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(m.Segments)*24+len(m.Fields)*32))

	pb.writeUint64(m.Version)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(m.NextSegmentID)
	pb.writeUint16(m.NextOrdinal)
	pb.writeUint64(m.TotalDocs)
	pb.writeString(m.PrimaryKey)

	pb.writeUint32(uint32(len(m.Segments)))
	for _, s := range m.Segments {
		pb.writeUint64(s.ID)
		pb.writeUint32(s.DocCount)
		pb.writeUint32(s.Dir)
		pb.writeUint64(uint64(s.Size))
	}

	pb.writeUint32(uint32(len(m.Fields)))
	for _, f := range m.Fields {
		pb.writeString(f.Name)
		pb.writeUint8(uint8(f.Type.Kind))
		pb.writeUint8(f.Type.Width)
		pb.writeUint8(f.Type.Precision)
		pb.writeUint16(f.Ordinal)
		pb.writeUint32(math.Float32bits(f.Weight))
	}

	if pb.err != nil {
		return pb.err
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(pb.buf))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(pb.buf)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pb.buf)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, v)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{}
	m.Version = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.NextSegmentID = pb.readUint64()
	m.NextOrdinal = pb.readUint16()
	m.TotalDocs = pb.readUint64()
	m.PrimaryKey = pb.readString()

	numSegments := pb.readUint32()
	if pb.err == nil && int(numSegments) > len(payload) {
		return nil, fmt.Errorf("%w: segment count %d", ErrCorrupt, numSegments)
	}
	m.Segments = make([]SegmentInfo, numSegments)
	for i := range m.Segments {
		m.Segments[i] = SegmentInfo{
			ID:       pb.readUint64(),
			DocCount: pb.readUint32(),
			Dir:      pb.readUint32(),
			Size:     int64(pb.readUint64()),
		}
	}

	numFields := pb.readUint32()
	if pb.err == nil && int(numFields) > len(payload) {
		return nil, fmt.Errorf("%w: field count %d", ErrCorrupt, numFields)
	}
	m.Fields = make([]FieldInfo, numFields)
	for i := range m.Fields {
		f := &m.Fields[i]
		f.Name = pb.readString()
		f.Type = document.Type{
			Kind:      document.Kind(pb.readUint8()),
			Width:     pb.readUint8(),
			Precision: pb.readUint8(),
		}
		f.Ordinal = pb.readUint16()
		f.Weight = math.Float32frombits(pb.readUint32())
	}

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err == nil {
		p.buf = append(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint16(v uint16) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
	}
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readUint8() uint8 {
	if b := p.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (p *payloadBuffer) readUint16() uint16 {
	if b := p.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (p *payloadBuffer) readUint32() uint32 {
	if b := p.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (p *payloadBuffer) readUint64() uint64 {
	if b := p.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (p *payloadBuffer) readString() string {
	l := p.readUint16()
	if b := p.take(int(l)); b != nil {
		return string(b)
	}
	return ""
}
