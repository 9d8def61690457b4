// Package origin fetches objects from the backing object store on a cache
// miss. The cache layer never talks to the origin directly; it is handed a
// fetch closure built from a Fetcher so that population stays decoupled from
// any particular store protocol.
package origin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	cacheerrors "github.com/edgecache/edgecache/pkg/errors"
)

// ByteRange selects a slice of an origin object. A zero Length means
// "from Offset to the end of the object".
type ByteRange struct {
	Offset int64
	Length int64
}

// Fetcher retrieves an object (or a range of one) from the origin store.
// The returned reader streams the object body; the caller must close it.
// The returned variant tag identifies the object version that was read
// (an ETag for S3) so that cached copies can be distinguished.
type Fetcher interface {
	// Fetch retrieves the object at path within bucket. A nil rng fetches
	// the whole object. The int64 is the content length of the returned
	// body, or -1 when the origin did not report one.
	Fetch(ctx context.Context, bucket, path string, rng *ByteRange) (io.ReadCloser, int64, string, error)
}

// Config holds connection settings for the S3 origin.
type Config struct {
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores
	// (MinIO, LocalStack). Empty means AWS.
	Endpoint       string
	ForcePathStyle bool
	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	// RequestTimeout bounds a single origin fetch. Zero disables the bound.
	RequestTimeout time.Duration
	MaxRetries     int
	Logger         *slog.Logger
}

// S3Fetcher fetches objects from S3 or an S3-compatible store.
type S3Fetcher struct {
	client  *s3.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewS3Fetcher creates a fetcher from cfg. It does not verify connectivity;
// the first Fetch surfaces any credential or endpoint problem.
func NewS3Fetcher(ctx context.Context, cfg Config) (*S3Fetcher, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cacheerrors.WrapError(cacheerrors.ErrCodeInvalidConfig,
			"failed to load AWS config", err).WithComponent("origin")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &S3Fetcher{
		client:  client,
		timeout: cfg.RequestTimeout,
		logger:  logger.With("component", "origin"),
	}, nil
}

// Fetch retrieves an object from S3. Range requests are expressed with the
// HTTP Range header; S3 returns 416 for ranges entirely past the end of the
// object, which is surfaced as an IO error rather than not-found.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, path string, rng *ByteRange) (io.ReadCloser, int64, string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
		Range:  rangeHeader(rng),
	}

	cancel := func() {}
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}

	start := time.Now()
	result, err := f.client.GetObject(ctx, input)
	if err != nil {
		cancel()
		return nil, 0, "", f.translateError(err, bucket, path)
	}

	length := int64(-1)
	if result.ContentLength != nil {
		length = *result.ContentLength
	}
	variant := ""
	if result.ETag != nil {
		variant = *result.ETag
	}

	f.logger.Debug("origin fetch",
		"bucket", bucket,
		"path", path,
		"length", length,
		"duration", time.Since(start))

	// The body must remain readable after Fetch returns, so the timeout
	// context is released only when the caller closes the stream.
	return &fetchBody{ReadCloser: result.Body, cancel: cancel}, length, variant, nil
}

type fetchBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *fetchBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (f *S3Fetcher) translateError(err error, bucket, path string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return cacheerrors.WrapError(cacheerrors.ErrCodeObjectNotFound,
			fmt.Sprintf("object not found: %s/%s", bucket, path), err).WithComponent("origin")
	case isErrorType[*s3types.NoSuchBucket](err):
		return cacheerrors.WrapError(cacheerrors.ErrCodeObjectNotFound,
			fmt.Sprintf("bucket not found: %s", bucket), err).WithComponent("origin")
	case cacheerrors.Is(err, context.DeadlineExceeded):
		return cacheerrors.WrapError(cacheerrors.ErrCodeOriginTimeout,
			fmt.Sprintf("origin fetch timed out: %s/%s", bucket, path), err).WithComponent("origin")
	default:
		return cacheerrors.WrapError(cacheerrors.ErrCodeOriginFetch,
			fmt.Sprintf("origin fetch failed: %s/%s", bucket, path), err).WithComponent("origin")
	}
}

func rangeHeader(rng *ByteRange) *string {
	if rng == nil {
		return nil
	}
	if rng.Length > 0 {
		return aws.String(fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1))
	}
	return aws.String(fmt.Sprintf("bytes=%d-", rng.Offset))
}

// isErrorType checks if an error is of a specific type.
func isErrorType[T error](err error) bool {
	var target T
	return cacheerrors.As(err, &target)
}
