package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/lexgo/internal/hash"
)

var errAborted = errors.New("s3: upload aborted")

// UploadConfig tunes multipart uploads of segment files.
type UploadConfig struct {
	// PartSize is the size of each part. Segment files below it go up in a
	// single request.
	PartSize int64
	// Concurrency bounds the parts of one file in flight.
	Concurrency int
	// EnableChecksum asks S3 to verify a CRC32C of every upload.
	EnableChecksum bool
	// LeavePartsOnError keeps the parts of a failed upload for inspection
	// instead of aborting it.
	LeavePartsOnError bool
}

// DefaultUploadConfig uses 8 MiB parts, five at a time, with checksums.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{PartSize: 8 << 20, Concurrency: 5, EnableChecksum: true}
}

func newUploader(client manager.UploadAPIClient, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// computeCRC32C encodes the checksum of data the way S3 headers carry it:
// base64 of the big-endian value.
func computeCRC32C(data []byte) string {
	return base64.StdEncoding.EncodeToString(binary.BigEndian.AppendUint32(nil, hash.CRC32C(data)))
}

// segmentUpload feeds writes through a pipe into a running manager upload.
type segmentUpload struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	result chan error

	mu       sync.Mutex
	finished bool
	err      error
}

func startUpload(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *segmentUpload {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	u := &segmentUpload{pw: pw, cancel: cancel, result: make(chan error, 1)}

	in := &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: pr}
	if checksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}
	go func() {
		// A failing body makes the manager abort the multipart upload
		// unless LeavePartsOnError is set.
		_, err := uploader.Upload(ctx, in)
		_ = pr.CloseWithError(err)
		u.result <- err
	}()
	return u
}

func (u *segmentUpload) Write(p []byte) (int, error) {
	u.mu.Lock()
	done := u.finished
	u.mu.Unlock()
	if done {
		return 0, io.ErrClosedPipe
	}
	return u.pw.Write(p)
}

// Close waits for the upload to complete. Later calls return the same result.
func (u *segmentUpload) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return u.err
	}
	u.finished = true
	defer u.cancel()

	if u.err = u.pw.Close(); u.err != nil {
		return u.err
	}
	u.err = <-u.result
	return u.err
}

// Abort cancels the upload so no object is created.
func (u *segmentUpload) Abort() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return nil
	}
	u.finished = true
	_ = u.pw.CloseWithError(errAborted)
	u.cancel()
	<-u.result
	u.err = errAborted
	return nil
}

// putWithChecksum uploads a small blob in one request with its CRC32C.
func putWithChecksum(ctx context.Context, client manager.UploadAPIClient, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ChecksumCRC32C: aws.String(computeCRC32C(data)),
	})
	return err
}
