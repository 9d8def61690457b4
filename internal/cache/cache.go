package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgecache/edgecache/internal/backend"
	"github.com/edgecache/edgecache/pkg/cachekey"
	"github.com/edgecache/edgecache/pkg/errors"
)

// ByteRange selects a window of a cached object for HTTP range semantics.
// A zero Length reads from Offset to the end of the object.
type ByteRange struct {
	Offset int64
	Length int64
}

// FetchFunc produces the bytes for a missing key from the origin. It returns
// the object stream and the variant tag describing the byte representation.
// The cache closes the returned reader.
type FetchFunc func(ctx context.Context) (io.ReadCloser, string, error)

// Config carries cache construction parameters.
type Config struct {
	// CapacityBytes is the logical cache capacity. Insertions that push
	// used bytes past it trigger LRU eviction.
	CapacityBytes int64

	// Observer receives hit/miss/eviction/io_error events. Optional.
	Observer Observer

	// Logger receives cache diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Cache is the public facade of the disk object cache. One Cache instance is
// scoped explicitly to the proxy process: construct it at startup, pass the
// handle into request-handling contexts, and Close it at shutdown.
type Cache struct {
	backend  backend.Backend
	capacity int64
	observer Observer
	logger   *slog.Logger

	mu    sync.RWMutex
	index *index

	// group coalesces concurrent populations per key digest: the first miss
	// becomes the leader, later misses wait for its result.
	group singleflight.Group
}

// New creates a cache over the given storage backend.
func New(cfg Config, be backend.Backend) (*Cache, error) {
	if be == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "storage backend is required")
	}
	if cfg.CapacityBytes <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "capacity_bytes must be positive")
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Cache{
		backend:  be,
		capacity: cfg.CapacityBytes,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		index:    newIndex(),
	}, nil
}

// Get serves a key directly from the cache. On a hit it updates recency and
// returns a range-bounded reader over the backend bytes together with the
// number of bytes the reader will produce. A miss returns a NOT_FOUND error;
// the caller drives origin fetch via GetOrFetch or Put.
func (c *Cache) Get(ctx context.Context, key cachekey.Key, rng ByteRange) (io.ReadCloser, int64, error) {
	digest := key.Digest()

	c.mu.RLock()
	e := c.index.lookup(digest)
	var loc backend.Locator
	var size int64
	if e != nil {
		loc = e.locator
		size = e.size
	}
	c.mu.RUnlock()

	if e == nil {
		c.observer.Miss(digest)
		return nil, 0, errors.NewError(errors.ErrCodeNotFound, "cache miss").
			WithComponent("cache").WithOperation("Get")
	}

	rc, err := c.backend.ReadRange(ctx, loc, rng.Offset, rng.Length)
	if err != nil {
		if errors.IsNotFound(err) {
			// The locator no longer resolves: the bytes were deleted or
			// corrupted behind our back. Self-heal by dropping the stale
			// entry and report a miss, never a fatal condition.
			c.selfHeal(e)
			c.observer.Miss(digest)
			// The condition itself is corruption (indexed bytes gone); the
			// caller sees a plain miss with the corruption as its cause.
			corrupt := errors.WrapError(errors.ErrCodeCorruption, "cached bytes no longer resolve", err).
				WithComponent("cache").WithOperation("Get")
			return nil, 0, errors.WrapError(errors.ErrCodeNotFound, "stale entry removed", corrupt).
				WithComponent("cache").WithOperation("Get")
		}
		c.observer.IOError("read")
		c.logger.Warn("backend read failed, degrading to miss",
			"key", key.String(), "error", err)
		return nil, 0, errors.WrapError(errors.ErrCodeNotFound, "backend read failed", err).
			WithComponent("cache").WithOperation("Get")
	}

	// Commit the hit: recency moves in the order reads complete.
	c.mu.Lock()
	if cur := c.index.lookup(digest); cur != nil {
		c.index.touch(cur)
	}
	c.mu.Unlock()

	c.observer.Hit(digest, size)
	return rc, rangeSize(size, rng), nil
}

// GetOrFetch serves a key from the cache, populating it from the origin on a
// miss. Concurrent misses for the same key elect a single leader; followers
// receive the leader's result, success or failure, without issuing their own
// fetch. Abandoning ctx abandons only this caller's wait: an in-flight
// population always runs to completion.
func (c *Cache) GetOrFetch(ctx context.Context, key cachekey.Key, rng ByteRange, fetch FetchFunc) (io.ReadCloser, int64, error) {
	rc, size, err := c.Get(ctx, key, rng)
	if err == nil {
		return rc, size, nil
	}
	if !errors.IsNotFound(err) {
		return nil, 0, err
	}

	digest := key.Digest()
	ch := c.group.DoChan(digest, func() (interface{}, error) {
		// The leader runs detached from any single caller so that client
		// disconnects cannot abort a population other requests are waiting on.
		pctx := context.WithoutCancel(ctx)

		body, variant, ferr := fetch(pctx)
		if ferr != nil {
			return nil, ferr
		}
		defer body.Close()

		return nil, c.populate(pctx, key, variant, body)
	})

	select {
	case <-ctx.Done():
		return nil, 0, errors.WrapError(errors.ErrCodeOperationCanceled, "wait for population abandoned", ctx.Err()).
			WithComponent("cache").WithOperation("GetOrFetch")
	case res := <-ch:
		if res.Err != nil {
			return nil, 0, res.Err
		}
	}

	rc, size, err = c.Get(ctx, key, rng)
	if err != nil {
		// The freshly populated entry can already be gone again under
		// extreme capacity pressure. That is a legitimate miss.
		return nil, 0, err
	}
	return rc, size, nil
}

// Put stores bytes for a key. Direct writes are routed through the population
// coordinator as well, so a concurrent fetch for the same key and this write
// can never populate twice: whichever becomes leader wins and the other
// shares its outcome.
func (c *Cache) Put(ctx context.Context, key cachekey.Key, variant string, r io.Reader) error {
	_, err, _ := c.group.Do(key.Digest(), func() (interface{}, error) {
		return nil, c.populate(ctx, key, variant, r)
	})
	return err
}

// Invalidate removes an entry and its backing bytes outside of normal
// eviction, e.g. when the origin object changed. Invalidating an absent key
// is not an error.
func (c *Cache) Invalidate(ctx context.Context, key cachekey.Key) error {
	digest := key.Digest()

	c.mu.Lock()
	e := c.index.remove(digest)
	c.mu.Unlock()

	if e == nil {
		return nil
	}

	if err := c.backend.Delete(ctx, e.locator); err != nil {
		// Same reclamation rule as eviction: stale bytes on disk are
		// acceptable, a stale index entry is not.
		c.observer.IOError("delete")
		c.logger.Warn("failed to delete invalidated object",
			"key", key.String(), "locator", string(e.locator), "error", err)
	}
	return nil
}

// UsedBytes returns the logical bytes tracked by the index.
func (c *Cache) UsedBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.usedBytes
}

// Entries returns the number of cached entries.
func (c *Cache) Entries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.len()
}

// Close releases the underlying backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// populate performs one fetch-and-store cycle: durable backend write first,
// index insertion second, eviction last. Only fully published objects ever
// become visible to readers.
func (c *Cache) populate(ctx context.Context, key cachekey.Key, variant string, r io.Reader) error {
	digest := key.Digest()

	loc, size, err := c.backend.WriteAtomic(ctx, digest, r)
	if err != nil {
		if !errors.IsCapacityExceeded(err) {
			c.observer.IOError("write")
		}
		c.logger.Warn("population write failed",
			"key", key.String(), "error", err)
		return err
	}

	now := time.Now()
	e := &entry{
		key:        key,
		digest:     digest,
		size:       size,
		locator:    loc,
		variant:    variant,
		createdAt:  now,
		lastAccess: now,
	}

	// A replaced entry under the same digest shares the digest-derived
	// locator, so its bytes were already overwritten by the publish; only
	// eviction victims need backend deletes, and those happen outside the
	// index mutex.
	c.mu.Lock()
	c.index.insert(e)
	victims := c.evictLocked(e)
	c.mu.Unlock()

	for _, v := range victims {
		c.observer.Eviction(v.digest, v.size)
		if err := c.backend.Delete(context.WithoutCancel(ctx), v.locator); err != nil {
			c.observer.IOError("delete")
			c.logger.Warn("eviction delete failed, leaking bytes on disk",
				"key", v.key.String(), "locator", string(v.locator), "error", err)
		}
	}

	return nil
}

// evictLocked restores the capacity invariant after inserting fresh. Entries
// are removed strictly from the least-recently-used end until used bytes fit
// the capacity. A single object larger than the whole capacity is still kept
// after everything else is evicted; starving large-object caching entirely
// would be worse than transiently exceeding the limit for that one object.
// Caller holds c.mu.
func (c *Cache) evictLocked(fresh *entry) []*entry {
	var victims []*entry
	for c.index.usedBytes > c.capacity {
		lru := c.index.lru()
		if lru == nil || lru == fresh {
			break
		}
		c.index.remove(lru.digest)
		victims = append(victims, lru)
	}
	return victims
}

// selfHeal removes a stale index entry whose backing bytes no longer resolve.
// Removal is keyed on entry identity, not the locator: locators are derived
// from the digest, so a repopulated entry carries the same locator as the
// stale one and must not be dropped by a reader that lost the race.
func (c *Cache) selfHeal(stale *entry) {
	c.mu.Lock()
	removed := c.index.lookup(stale.digest) == stale
	if removed {
		c.index.remove(stale.digest)
	}
	c.mu.Unlock()

	if removed {
		c.logger.Warn("removed stale cache entry",
			"key", stale.key.String(), "locator", string(stale.locator))
	}
}

// rangeSize computes how many bytes a range-bounded reader will produce for
// an object of the given size.
func rangeSize(size int64, rng ByteRange) int64 {
	if rng.Offset >= size {
		return 0
	}
	avail := size - rng.Offset
	if rng.Length > 0 && rng.Length < avail {
		return rng.Length
	}
	return avail
}
