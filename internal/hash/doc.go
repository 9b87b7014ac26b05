// Package hash computes the CRC32C checksums recorded for exported files.
//
// Export streams each segment file through [NewCRC32C] and stores the sum in
// the export record; import recomputes it before a file is used. The S3
// store sends [CRC32C] of small blobs so the service rejects damaged bodies.
package hash
