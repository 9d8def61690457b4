// Package backend implements durable byte storage for cached objects.
//
// A Backend stores immutable object blobs under a content-derived path space
// and exposes four primitives: atomic publication of a byte stream, bounded
// range reads, idempotent deletion, and an existence probe. Two
// implementations share the contract: a portable implementation built on
// regular file operations, and a Linux io_uring implementation that batches
// read/write/fsync submissions through a kernel completion ring. Selection
// happens once at startup; when the ring cannot be created the portable
// implementation is substituted silently, with identical observable semantics.
package backend

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/edgecache/edgecache/pkg/errors"
	"github.com/edgecache/edgecache/pkg/retry"
)

// Locator is an opaque handle naming where an object's bytes live inside the
// backend's storage space. Locators are owned by the cache entry that
// references them; the backend is the sole mutator of the underlying bytes.
type Locator string

// Backend is the primitive durable storage contract consumed by the cache.
//
// Implementations must be safe for concurrent use. Operations on distinct
// locators never contend; an object file is exclusively owned by the entry
// referencing it.
type Backend interface {
	// WriteAtomic streams r to a temporary location, forces the bytes
	// durable, then atomically publishes them under the locator derived
	// from key. It returns only after publication; an interrupted write
	// leaves nothing visible at the final path.
	WriteAtomic(ctx context.Context, key string, r io.Reader) (Locator, int64, error)

	// ReadRange returns a bounded reader over the stored object. A length
	// <= 0 reads to the end of the object. The returned reader is lazy;
	// callers must Close it.
	ReadRange(ctx context.Context, loc Locator, offset, length int64) (io.ReadCloser, error)

	// Delete removes the stored bytes. Deleting an absent locator is not
	// an error.
	Delete(ctx context.Context, loc Locator) error

	// Exists probes for the locator without reading content.
	Exists(ctx context.Context, loc Locator) bool

	// Name identifies the implementation for logs and metrics.
	Name() string

	// Close releases backend resources.
	Close() error
}

// Mode selects which backend implementation to construct.
type Mode string

const (
	// ModeAuto probes for io_uring support and falls back to the portable
	// implementation when the ring cannot be created.
	ModeAuto Mode = "auto"

	// ModePortable always uses the portable file implementation.
	ModePortable Mode = "portable"

	// ModeFast prefers the io_uring implementation but still falls back
	// rather than failing startup when the ring is unavailable.
	ModeFast Mode = "fast"
)

// ParseMode validates a configuration string as a backend mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModePortable, ModeFast:
		return Mode(s), nil
	case "":
		return ModeAuto, nil
	default:
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "unknown backend mode: "+s)
	}
}

// Config carries backend construction parameters.
type Config struct {
	// Directory is the root of the backend's storage space.
	Directory string

	// Mode selects the implementation. Defaults to ModeAuto.
	Mode Mode

	// MaxBytes is a hard disk-space ceiling enforced by the backend itself,
	// independent of the cache's logical capacity. Zero disables the ceiling.
	MaxBytes int64

	// RingEntries sizes the io_uring submission queue. Zero uses a default.
	RingEntries uint

	// Retry configures bounded retry of transient publish faults in the
	// portable implementation.
	Retry retry.Config

	// Logger receives backend diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// New constructs the backend selected by cfg.Mode. The choice is made once;
// callers treat the returned Backend as a fixed dependency for the process
// lifetime. Construction fails only when no implementation can be built,
// which is a startup configuration error rather than a runtime condition.
func New(cfg Config) (Backend, error) {
	if cfg.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "backend directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}

	switch cfg.Mode {
	case ModePortable:
		return NewFileBackend(cfg)
	case ModeAuto, ModeFast:
		fast, err := newURingBackend(cfg)
		if err == nil {
			cfg.Logger.Debug("using io_uring storage backend", "dir", cfg.Directory)
			return fast, nil
		}
		cfg.Logger.Warn("io_uring backend unavailable, falling back to portable backend",
			"error", err)

		portable, perr := NewFileBackend(cfg)
		if perr != nil {
			return nil, errors.WrapError(errors.ErrCodeBackendStartup,
				"no storage backend could be constructed", perr)
		}
		return portable, nil
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unknown backend mode: "+string(cfg.Mode))
	}
}

// translatePathError maps a filesystem error to the cache error taxonomy.
func translatePathError(op string, err error) error {
	if os.IsNotExist(err) {
		return errors.WrapError(errors.ErrCodeNotFound, "locator does not resolve", err).
			WithComponent("backend").WithOperation(op)
	}
	return errors.WrapError(errors.ErrCodeIOError, "backend I/O fault", err).
		WithComponent("backend").WithOperation(op)
}
