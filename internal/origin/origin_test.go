package origin

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/edgecache/edgecache/pkg/errors"
)

func TestNewS3Fetcher(t *testing.T) {
	f, err := NewS3Fetcher(context.Background(), Config{
		Region:          "us-west-2",
		Endpoint:        "http://localhost:4566",
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.NotNil(t, f.client)
}

func TestNewS3FetcherDefaults(t *testing.T) {
	f, err := NewS3Fetcher(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotNil(t, f.logger)
	assert.Zero(t, f.timeout)
}

func TestRangeHeader(t *testing.T) {
	assert.Nil(t, rangeHeader(nil))

	h := rangeHeader(&ByteRange{Offset: 0, Length: 4096})
	require.NotNil(t, h)
	assert.Equal(t, "bytes=0-4095", *h)

	h = rangeHeader(&ByteRange{Offset: 100, Length: 50})
	require.NotNil(t, h)
	assert.Equal(t, "bytes=100-149", *h)

	// Open-ended range: read from offset to the end.
	h = rangeHeader(&ByteRange{Offset: 2048})
	require.NotNil(t, h)
	assert.Equal(t, "bytes=2048-", *h)
}

func TestTranslateError(t *testing.T) {
	f := &S3Fetcher{}

	err := f.translateError(&s3types.NoSuchKey{}, "assets", "img/logo.png")
	assert.Equal(t, cacheerrors.ErrCodeObjectNotFound, cacheerrors.GetCode(err))
	assert.True(t, cacheerrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "assets/img/logo.png")

	err = f.translateError(&s3types.NoSuchBucket{}, "missing-bucket", "any")
	assert.Equal(t, cacheerrors.ErrCodeObjectNotFound, cacheerrors.GetCode(err))
	assert.Contains(t, err.Error(), "missing-bucket")

	err = f.translateError(context.DeadlineExceeded, "assets", "slow")
	assert.Equal(t, cacheerrors.ErrCodeOriginTimeout, cacheerrors.GetCode(err))

	err = f.translateError(errors.New("connection refused"), "assets", "obj")
	assert.Equal(t, cacheerrors.ErrCodeOriginFetch, cacheerrors.GetCode(err))
	assert.False(t, cacheerrors.IsNotFound(err))
}

func TestFetchBodyReleasesContext(t *testing.T) {
	released := false
	body := &fetchBody{
		ReadCloser: io.NopCloser(strings.NewReader("payload")),
		cancel:     func() { released = true },
	}

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.False(t, released, "context must stay live until the body is closed")

	require.NoError(t, body.Close())
	assert.True(t, released)
}
