package cache

import (
	"container/list"
	"time"

	"github.com/edgecache/edgecache/internal/backend"
	"github.com/edgecache/edgecache/pkg/cachekey"
)

// entry represents one stored object variant. Size and locator are immutable
// for the entry's lifetime; only lastAccess changes, on reads.
type entry struct {
	key     cachekey.Key
	digest  string
	size    int64
	locator backend.Locator
	variant string

	createdAt  time.Time
	lastAccess time.Time

	element *list.Element
}

// index maps key digests to entries and keeps a recency list consistent with
// the mapping. The recency list holds *entry values: front is least recently
// used, back is most recently used. All operations are O(1); callers provide
// mutual exclusion.
type index struct {
	entries   map[string]*entry
	recency   *list.List
	usedBytes int64
}

func newIndex() *index {
	return &index{
		entries: make(map[string]*entry),
		recency: list.New(),
	}
}

// lookup returns the entry for a digest, or nil. Lookup does not change
// recency; reads call touch separately once they commit to serving the entry.
func (ix *index) lookup(digest string) *entry {
	return ix.entries[digest]
}

// insert adds an entry at the most-recently-used end. A pre-existing entry
// under the same digest is replaced and returned so the caller can reconcile
// usage accounting.
func (ix *index) insert(e *entry) *entry {
	replaced := ix.remove(e.digest)
	e.element = ix.recency.PushBack(e)
	ix.entries[e.digest] = e
	ix.usedBytes += e.size
	return replaced
}

// touch moves an entry to the most-recently-used end.
func (ix *index) touch(e *entry) {
	e.lastAccess = time.Now()
	ix.recency.MoveToBack(e.element)
}

// remove detaches an entry from both structures. Returns nil when the digest
// is absent.
func (ix *index) remove(digest string) *entry {
	e, ok := ix.entries[digest]
	if !ok {
		return nil
	}
	delete(ix.entries, digest)
	ix.recency.Remove(e.element)
	e.element = nil
	ix.usedBytes -= e.size
	return e
}

// lru returns the least-recently-used entry without removing it, or nil when
// the index is empty.
func (ix *index) lru() *entry {
	front := ix.recency.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*entry)
}

func (ix *index) len() int {
	return len(ix.entries)
}
