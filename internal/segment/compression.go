package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec of stored rows.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 favours decode speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favours ratio.
	CompressionZSTD Compression = 2
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("segment: unknown compression %q", s)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 marks a block stored raw.
const blockHeaderSize = 8

var errShortBlock = errors.New("block too small")

// appendBlock appends data to dst as one block.
func appendBlock(dst, data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	// Store raw when compression does not pay off.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, data...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(compressed)))
	return append(dst, compressed...), nil
}

// readBlock decodes one block into buf (grown when too small) and returns
// the decoded bytes.
func readBlock(block []byte, c Compression, buf []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errShortBlock
	}
	size := binary.LittleEndian.Uint32(block[0:])
	csize := binary.LittleEndian.Uint32(block[4:])

	if csize == 0 {
		if uint64(len(block)) < blockHeaderSize+uint64(size) {
			return nil, errShortBlock
		}
		return block[blockHeaderSize : blockHeaderSize+size], nil
	}
	if uint64(len(block)) < blockHeaderSize+uint64(csize) {
		return nil, errShortBlock
	}
	data := block[blockHeaderSize : blockHeaderSize+csize]
	if uint32(cap(buf)) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(data, buf)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return buf, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, buf[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressed block with codec %d", c)
	}
}
