package hash

import (
	"hash"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a streaming hash with the same sum as CRC32C.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}
