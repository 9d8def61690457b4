package cache

import (
	"fmt"
	"testing"

	"github.com/edgecache/edgecache/internal/backend"
	"github.com/edgecache/edgecache/pkg/cachekey"
)

func testEntry(name string, size int64) *entry {
	key := cachekey.New("bucket", name, "")
	return &entry{
		key:     key,
		digest:  key.Digest(),
		size:    size,
		locator: backend.Locator("xx/" + key.Digest()),
	}
}

func TestIndexInsertLookupRemove(t *testing.T) {
	ix := newIndex()

	e := testEntry("obj-1", 100)
	ix.insert(e)

	if got := ix.lookup(e.digest); got != e {
		t.Fatalf("lookup returned %v, want inserted entry", got)
	}
	if ix.usedBytes != 100 {
		t.Errorf("usedBytes = %d, want 100", ix.usedBytes)
	}
	if ix.len() != 1 {
		t.Errorf("len = %d, want 1", ix.len())
	}

	removed := ix.remove(e.digest)
	if removed != e {
		t.Fatalf("remove returned %v, want inserted entry", removed)
	}
	if ix.lookup(e.digest) != nil {
		t.Error("lookup after remove should return nil")
	}
	if ix.usedBytes != 0 {
		t.Errorf("usedBytes after remove = %d, want 0", ix.usedBytes)
	}

	if ix.remove(e.digest) != nil {
		t.Error("removing an absent digest should return nil")
	}
}

func TestIndexUsedBytesTracksIncrementally(t *testing.T) {
	ix := newIndex()

	var want int64
	for i := 0; i < 10; i++ {
		size := int64((i + 1) * 37)
		ix.insert(testEntry(fmt.Sprintf("obj-%d", i), size))
		want += size
		if ix.usedBytes != want {
			t.Fatalf("after insert %d: usedBytes = %d, want %d", i, ix.usedBytes, want)
		}
	}
}

func TestIndexLRUOrder(t *testing.T) {
	ix := newIndex()

	entries := make([]*entry, 5)
	for i := range entries {
		entries[i] = testEntry(fmt.Sprintf("obj-%d", i), 10)
		ix.insert(entries[i])
	}

	// With no intervening touches, eviction order matches insertion order.
	for i := range entries {
		lru := ix.lru()
		if lru != entries[i] {
			t.Fatalf("lru step %d: got %s, want %s", i, lru.key.Path, entries[i].key.Path)
		}
		ix.remove(lru.digest)
	}

	if ix.lru() != nil {
		t.Error("lru of empty index should be nil")
	}
}

func TestIndexTouchMovesToMRUEnd(t *testing.T) {
	ix := newIndex()

	a := testEntry("a", 10)
	b := testEntry("b", 10)
	c := testEntry("c", 10)
	ix.insert(a)
	ix.insert(b)
	ix.insert(c)

	ix.touch(a)

	wantOrder := []*entry{b, c, a}
	for i, want := range wantOrder {
		lru := ix.lru()
		if lru != want {
			t.Fatalf("after touch, lru step %d: got %s, want %s", i, lru.key.Path, want.key.Path)
		}
		ix.remove(lru.digest)
	}
}

func TestIndexReplacement(t *testing.T) {
	ix := newIndex()

	old := testEntry("same", 100)
	ix.insert(old)

	fresh := testEntry("same", 250)
	replaced := ix.insert(fresh)

	if replaced != old {
		t.Fatalf("insert should return the replaced entry")
	}
	if ix.len() != 1 {
		t.Errorf("len = %d, want 1 after replacement", ix.len())
	}
	if ix.usedBytes != 250 {
		t.Errorf("usedBytes = %d, want 250 after replacement", ix.usedBytes)
	}
	if ix.lookup(fresh.digest) != fresh {
		t.Error("lookup should return the fresh entry")
	}
}
