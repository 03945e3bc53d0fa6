// Package s3fs serves fsys resources from S3.
//
// Reads are seekable: the stream issues ranged GetObject requests and
// reopens the body after a Seek. Writes stream through the S3 upload
// manager. Streamed uploads cannot be synced, so formats that need a
// fsys.SyncWriter must use a loader with Spool enabled, which writes to a
// local temp file and uploads it on close.
package s3fs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/eunmann/batchio/pkg/fsys"
)

// API is the subset of the S3 client the loader uses.
type API interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	s3.HeadObjectAPIClient
	s3.ListObjectsV2APIClient
}

// Config configures the loader.
type Config struct {
	// Region overrides the region from the default AWS configuration.
	Region string
	// Endpoint sets a custom endpoint (MinIO, localstack).
	Endpoint string
	// PathStyle forces path-style addressing.
	PathStyle bool
	// Spool buffers writes in a local temp file so output streams support Sync.
	Spool bool
	// TempDir is where spool files go. If empty, os.TempDir() is used.
	TempDir string
	// PartSize is the multipart upload part size. Default: 16MB.
	PartSize int64
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{PartSize: 16 * 1024 * 1024}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() {
	if c.PartSize <= 0 {
		c.PartSize = DefaultConfig().PartSize
	}
}

// Loader is an fsys.Loader backed by S3.
type Loader struct {
	api      API
	uploader *manager.Uploader
	cfg      Config
}

// New creates a loader using the default AWS configuration chain.
func New(ctx context.Context, cfg Config) (*Loader, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a loader around an existing client.
func NewWithClient(api API, cfg Config) *Loader {
	cfg.Validate()
	uploader := manager.NewUploader(api, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
	})
	return &Loader{api: api, uploader: uploader, cfg: cfg}
}

// Resource implements fsys.Loader.
func (l *Loader) Resource(p string) (fsys.Resource, error) {
	bucket, key, err := ParseURI(p)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("s3 uri %q has no key", p)
	}
	return &resource{loader: l, bucket: bucket, key: key}, nil
}

// Resources implements fsys.Loader. The pattern is matched against whole
// keys with path.Match, so '*' does not cross '/'.
func (l *Loader) Resources(ctx context.Context, pattern string) ([]fsys.Resource, error) {
	bucket, keyPattern, err := ParseURI(pattern)
	if err != nil {
		return nil, err
	}
	if _, err := path.Match(keyPattern, ""); err != nil {
		return nil, fmt.Errorf("s3 glob %q: %w", pattern, err)
	}

	p := s3.NewListObjectsV2Paginator(l.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fsys.LiteralPrefix(keyPattern)),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, fsys.LiteralPrefix(keyPattern), err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if ok, _ := path.Match(keyPattern, key); ok {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)

	out := make([]fsys.Resource, 0, len(keys))
	for _, k := range keys {
		out = append(out, &resource{loader: l, bucket: bucket, key: k})
	}
	return out, nil
}

// ParseURI parses an S3 URI (s3://bucket/key) into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	scheme, rest := fsys.SplitScheme(uri)
	if scheme != "s3" {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}

type resource struct {
	loader *Loader
	bucket string
	key    string
}

func (r *resource) Path() string     { return "s3://" + r.bucket + "/" + r.key }
func (r *resource) Filename() string { return path.Base(r.key) }

func (r *resource) Exists(ctx context.Context) (bool, error) {
	_, err := r.head(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (r *resource) Size(ctx context.Context) (int64, error) {
	out, err := r.head(ctx)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (r *resource) head(ctx context.Context) (*s3.HeadObjectOutput, error) {
	out, err := r.loader.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("head %s: %w", r.Path(), fsys.ErrNotExist)
		}
		return nil, fmt.Errorf("head %s: %w", r.Path(), err)
	}
	return out, nil
}

func (r *resource) Open(ctx context.Context) (fsys.InputStream, error) {
	size, err := r.Size(ctx)
	if err != nil {
		return nil, err
	}
	return &rangeReader{ctx: ctx, api: r.loader.api, bucket: r.bucket, key: r.key, size: size}, nil
}

func (r *resource) Create(ctx context.Context) (fsys.OutputStream, error) {
	if r.loader.cfg.Spool {
		return newSpoolOutput(ctx, r.loader, r.bucket, r.key)
	}
	return newPipeOutput(ctx, r.loader.uploader, r.bucket, r.key), nil
}

func isNotFound(err error) bool {
	if errors.Is(err, fsys.ErrNotExist) {
		return true
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
