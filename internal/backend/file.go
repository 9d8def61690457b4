package backend

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/edgecache/edgecache/pkg/errors"
	"github.com/edgecache/edgecache/pkg/retry"
)

// writeChunkSize bounds a single copy step so cancellation is observed
// periodically during large writes.
const writeChunkSize = 1 << 20 // 1MB

// FileBackend is the portable storage implementation built on regular file
// operations. It is always correct on any platform and serves both as the
// default implementation and as the fallback when the io_uring ring cannot
// be created.
type FileBackend struct {
	*store
	retryer *retry.Retryer
	logger  *slog.Logger
}

// NewFileBackend creates a portable backend rooted at cfg.Directory.
func NewFileBackend(cfg Config) (*FileBackend, error) {
	st, err := newStore(cfg.Directory, cfg.MaxBytes)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryer := retry.New(cfg.Retry)
	if cfg.Retry.MaxAttempts == 0 {
		// One retried publish is enough for clearly transient conditions;
		// reads are never retried and degrade to a miss instead.
		retryer = retry.New(retry.DefaultConfig()).WithMaxAttempts(2)
	}
	retryer = retryer.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying object publish",
			"attempt", attempt, "delay", delay, "error", err)
	})

	return &FileBackend{
		store:   st,
		retryer: retryer,
		logger:  logger,
	}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "portable" }

// WriteAtomic implements Backend. The byte stream is staged in a temp file,
// flushed, charged against the space ceiling, and only then renamed to its
// final locator path.
func (b *FileBackend) WriteAtomic(ctx context.Context, key string, r io.Reader) (Locator, int64, error) {
	tmp, err := b.createTemp()
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	written, err := copyChunked(ctx, tmp, r, writeChunkSize)
	if err != nil {
		cleanup()
		if errors.GetCode(err) == errors.ErrCodeOperationCanceled {
			return "", 0, err
		}
		return "", 0, errors.WrapError(errors.ErrCodeIOError, "failed to stage object bytes", err).
			WithComponent("backend").WithOperation("WriteAtomic")
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", 0, errors.WrapError(errors.ErrCodeIOError, "failed to sync object bytes", err).
			WithComponent("backend").WithOperation("WriteAtomic")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, errors.WrapError(errors.ErrCodeIOError, "failed to close temp file", err).
			WithComponent("backend").WithOperation("WriteAtomic")
	}

	if err := b.reserve(written); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}

	loc := b.locator(key)

	// The rename is the only step worth retrying: the staged bytes are
	// durable and the operation is idempotent.
	err = b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return b.publish(tmpPath, loc)
	})
	if err != nil {
		b.release(written)
		os.Remove(tmpPath)
		return "", 0, err
	}

	return loc, written, nil
}

// ReadRange implements Backend.
func (b *FileBackend) ReadRange(ctx context.Context, loc Locator, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(b.finalPath(loc))
	if err != nil {
		return nil, translatePathError("ReadRange", err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, translatePathError("ReadRange", err)
		}
	}

	if length <= 0 {
		return f, nil
	}
	return &boundedReader{r: io.LimitReader(f, length), closer: f}, nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(ctx context.Context, loc Locator) error {
	return b.remove(loc)
}

// Exists implements Backend.
func (b *FileBackend) Exists(ctx context.Context, loc Locator) bool {
	return b.exists(loc)
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// boundedReader limits a range read while closing the underlying file.
type boundedReader struct {
	r      io.Reader
	closer io.Closer
}

func (b *boundedReader) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *boundedReader) Close() error               { return b.closer.Close() }
