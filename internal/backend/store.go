package backend

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/edgecache/edgecache/pkg/errors"
)

// tempPattern names in-flight temporary files. Anything matching it under the
// store root is an interrupted write and is swept away at startup.
const tempPattern = "put-*.tmp"

// store holds the on-disk layout shared by both backend implementations:
// a root directory with two-hex-character shard subdirectories, temp-file
// staging for atomic publication, and accounting for the hard space ceiling.
type store struct {
	root     string
	maxBytes int64
	used     atomic.Int64
}

func newStore(root string, maxBytes int64) (*store, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, errors.WrapError(errors.ErrCodeIOError, "failed to create backend directory", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeIOError, "failed to resolve backend directory", err)
	}

	s := &store{root: abs, maxBytes: maxBytes}

	if err := s.sweepTempFiles(); err != nil {
		return nil, err
	}

	size, err := dirSize(abs)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeIOError, "failed to scan backend directory", err)
	}
	s.used.Store(size)

	return s, nil
}

// locator derives the relative storage path for a key digest: a shard
// directory from the first two characters, then the full digest.
func (s *store) locator(key string) Locator {
	if len(key) < 2 {
		return Locator(key)
	}
	return Locator(key[:2] + "/" + key)
}

func (s *store) finalPath(loc Locator) string {
	return filepath.Join(s.root, filepath.FromSlash(string(loc)))
}

// createTemp stages an in-flight write in the store root so the final rename
// never crosses a filesystem boundary.
func (s *store) createTemp() (*os.File, error) {
	f, err := os.CreateTemp(s.root, tempPattern)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeIOError, "failed to create temp file", err)
	}
	return f, nil
}

// publish atomically moves a fully written temp file to its final locator
// path. The size has already been charged against the ceiling by reserve.
// A rename over an already published object replaces its bytes, so the
// replaced file's charge is released to keep usage equal to what is on disk.
func (s *store) publish(tmpPath string, loc Locator) error {
	final := s.finalPath(loc)
	if err := os.MkdirAll(filepath.Dir(final), 0750); err != nil {
		return errors.WrapError(errors.ErrCodeIOError, "failed to create shard directory", err)
	}

	var replaced int64
	if info, err := os.Stat(final); err == nil {
		replaced = info.Size()
	}

	if err := os.Rename(tmpPath, final); err != nil {
		return errors.WrapError(errors.ErrCodeIOError, "failed to publish object", err)
	}
	if replaced > 0 {
		s.release(replaced)
	}
	return nil
}

// reserve charges n bytes against the hard ceiling. It fails with
// CAPACITY_EXCEEDED when the ceiling would be crossed, leaving usage
// unchanged.
func (s *store) reserve(n int64) error {
	if s.maxBytes <= 0 {
		s.used.Add(n)
		return nil
	}
	for {
		current := s.used.Load()
		if current+n > s.maxBytes {
			return errors.NewError(errors.ErrCodeCapacityExceeded, "backend space ceiling exceeded").
				WithDetail("requested", n).
				WithDetail("used", current).
				WithDetail("limit", s.maxBytes)
		}
		if s.used.CompareAndSwap(current, current+n) {
			return nil
		}
	}
}

func (s *store) release(n int64) {
	s.used.Add(-n)
}

// remove deletes the object bytes for a locator and releases its usage.
// Removing an absent locator is not an error.
func (s *store) remove(loc Locator) error {
	final := s.finalPath(loc)

	info, err := os.Stat(final)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return translatePathError("Delete", err)
	}

	if err := os.Remove(final); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return translatePathError("Delete", err)
	}

	s.release(info.Size())
	return nil
}

func (s *store) exists(loc Locator) bool {
	info, err := os.Stat(s.finalPath(loc))
	return err == nil && info.Mode().IsRegular()
}

// sweepTempFiles deletes interrupted writes left behind by a previous
// process. None of them were ever visible under a final name.
func (s *store) sweepTempFiles() error {
	matches, err := filepath.Glob(filepath.Join(s.root, tempPattern))
	if err != nil {
		return errors.WrapError(errors.ErrCodeIOError, "failed to scan temp files", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return errors.WrapError(errors.ErrCodeIOError, "failed to remove stale temp file", err)
		}
	}
	return nil
}

// dirSize totals the regular files under root, skipping in-flight temp files.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// copyChunked copies src to dst in bounded chunks, checking ctx between
// chunks so large writes stay responsive to cancellation.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int64) (int64, error) {
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, errors.WrapError(errors.ErrCodeOperationCanceled, "write canceled", ctx.Err())
		default:
		}

		n, err := io.CopyN(dst, src, chunkSize)
		written += n
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
