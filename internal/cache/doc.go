/*
Package cache implements the disk object cache engine: an in-memory index with
strict least-recently-used eviction over a durable storage backend, plus a
population coordinator that collapses concurrent misses for the same key into
a single origin fetch.

# Architecture

	┌─────────────────────────────────────────────┐
	│              Proxy Pipeline                 │
	│        (request handling, external)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               Cache Facade                  │  ← This Package
	│      Get / GetOrFetch / Put / Invalidate    │
	│  ┌───────────────┐  ┌────────────────────┐  │
	│  │  LRU Index    │  │    Population      │  │
	│  │  + Eviction   │  │    Coordinator     │  │
	│  └───────────────┘  └────────────────────┘  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Storage Backend                  │
	│     (portable files or io_uring ring)       │
	└─────────────────────────────────────────────┘

# Key lifecycle

Each key moves through Absent -> Populating -> Present -> (Evicted |
Invalidated) -> Absent. Populating is the only state in which concurrent
misses coalesce behind a single leader; Present is the only state servable
directly from the index. An index entry always references fully published
backend bytes: insertion happens strictly after the backend write returns.

# Concurrency

The index mutex is scoped to structure updates only and is never held across
backend I/O. Backend operations on distinct locators never contend. A leader
population is not cancelled when its caller disconnects; it completes for the
benefit of followers and future requests.

# Failure handling

Backend failures never escape as panics: a read whose locator no longer
resolves triggers self-healing removal of the stale entry and reports a miss,
a failed eviction delete is logged while the index entry is still removed,
and a rejected write surfaces as a failed put while the cache keeps serving
existing entries.
*/
package cache
