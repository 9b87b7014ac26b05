package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/lexgo/blobstore"
)

// Client is the subset of the S3 API used by Store. *s3.Client satisfies it.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements blobstore.Store for S3.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	upload   UploadConfig
	uploader *manager.Uploader
}

var _ blobstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*options)

type options struct {
	prefix string
	region string
	upload UploadConfig
}

// WithPrefix sets the key prefix prepended to all blob names.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithRegion sets the AWS region used by New.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithUploadConfig overrides the multipart upload settings.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *options) { o.upload = cfg }
}

// NewStore creates a new S3 blob store.
// rootPrefix is prepended to all keys (e.g. "my-collection/").
func NewStore(client Client, bucket, rootPrefix string, optFns ...Option) *Store {
	o := options{prefix: rootPrefix, upload: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&o)
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   o.prefix,
		upload:   o.upload,
		uploader: newUploader(client, o.upload),
	}
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, o.prefix, optFns...), nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens a blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &s3Blob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Create starts a streaming multipart upload. The object appears on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return startUpload(ctx, s.uploader, s.bucket, s.key(name), s.upload.EnableChecksum), nil
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return putWithChecksum(ctx, s.client, s.bucket, s.key(name), data)
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// List returns all blob names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		fullPrefix += "/"
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			rel = strings.TrimPrefix(rel, "/")
			if rel != "" {
				keys = append(keys, rel)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// s3Blob implements blobstore.Blob with ranged GETs.
type s3Blob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *s3Blob) Close() error {
	return nil
}

func (b *s3Blob) Size() int64 {
	return b.size
}

func (b *s3Blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if off >= b.size || length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	end := min(off+length, b.size) - 1

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
