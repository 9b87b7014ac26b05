package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/lexgo/blobstore"
)

var errAborted = errors.New("minio: upload aborted")

// Store keeps exported collections in a MinIO or other S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ blobstore.Store = (*Store)(nil)

// NewStore returns a store writing below rootPrefix in bucket, for example
// "collections/products/".
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(rootPrefix, "/")}
}

func (s *Store) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *Store) blobName(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// contentType labels export objects so they render sensibly in consoles.
func contentType(name string) string {
	switch path.Ext(name) {
	case ".yaml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

// Open stats the object and returns a handle that reads it by range.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.objectKey(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return &object{store: s, key: key, size: info.Size, etag: info.ETag}, nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(name), SendContentMd5: true})
	return err
}

// Create streams an upload of unknown size. The object appears when Close
// returns nil.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	u := &upload{pw: pw, cancel: cancel, result: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(name), pr, -1,
			minio.PutObjectOptions{ContentType: contentType(name), SendContentMd5: true})
		_ = pr.CloseWithError(err)
		u.result <- err
	}()
	return u, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List walks every object below prefix and returns their names sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	opts := minio.ListObjectsOptions{Prefix: s.objectKey(prefix), Recursive: true}
	if prefix == "" && s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.blobName(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type object struct {
	store *Store
	key   string
	size  int64
	etag  string
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

// ReadRange pins the read to the ETag seen by Open so a concurrent export
// cannot mix two versions of one file.
func (o *object) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if length <= 0 || off >= o.size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, min(off+length, o.size)-1); err != nil {
		return nil, err
	}
	if o.etag != "" {
		if err := opts.SetMatchETag(o.etag); err != nil {
			return nil, err
		}
	}
	obj, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return nil, mapError(err)
	}
	return obj, nil
}

type upload struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	result chan error

	once sync.Once
	err  error
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

func (u *upload) finish(cause error) error {
	u.once.Do(func() {
		defer u.cancel()
		if cause != nil {
			_ = u.pw.CloseWithError(cause)
			u.cancel()
			<-u.result
			return
		}
		if err := u.pw.Close(); err != nil {
			u.err = err
			return
		}
		u.err = <-u.result
	})
	return u.err
}

func (u *upload) Close() error { return u.finish(nil) }

func (u *upload) Abort() error {
	_ = u.finish(errAborted)
	return nil
}

func mapError(err error) error {
	if isNotFound(err) {
		return blobstore.ErrNotFound
	}
	return err
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
