// Package cachekey derives stable fingerprints for cacheable object variants.
//
// A key is built from the identifying attributes of a request: origin bucket,
// object path, an opaque variant tag (e.g. a content encoding), and an optional
// byte-range window. Identical logical requests always produce identical keys,
// so the fingerprint can be used as the canonical identity of a cache entry.
package cachekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Key identifies one cacheable object variant. Keys are immutable once
// constructed; build them with New and derive identity via Digest.
type Key struct {
	Bucket  string
	Path    string
	Variant string

	// RangeOffset/RangeLength describe a byte-range window when the cached
	// variant is a partial object. A zero RangeLength means the full object.
	RangeOffset int64
	RangeLength int64

	digest string
}

// New constructs a key for a full object variant.
func New(bucket, path, variant string) Key {
	return NewRange(bucket, path, variant, 0, 0)
}

// NewRange constructs a key for a byte-range window of an object variant.
func NewRange(bucket, path, variant string, offset, length int64) Key {
	k := Key{
		Bucket:      bucket,
		Path:        path,
		Variant:     variant,
		RangeOffset: offset,
		RangeLength: length,
	}
	k.digest = k.computeDigest()
	return k
}

// Digest returns the hex-encoded SHA-256 fingerprint of the key. The digest is
// stable across processes and releases of this package.
func (k Key) Digest() string {
	if k.digest == "" {
		// Zero-value or manually constructed key; derive lazily.
		return k.computeDigest()
	}
	return k.digest
}

// String returns a human-readable form for logs. Not stable; use Digest for identity.
func (k Key) String() string {
	if k.RangeLength > 0 {
		return fmt.Sprintf("%s/%s@%s[%d:%d]", k.Bucket, k.Path, k.Variant, k.RangeOffset, k.RangeOffset+k.RangeLength)
	}
	if k.Variant != "" {
		return fmt.Sprintf("%s/%s@%s", k.Bucket, k.Path, k.Variant)
	}
	return fmt.Sprintf("%s/%s", k.Bucket, k.Path)
}

// computeDigest hashes the key attributes with length prefixes so that field
// boundaries cannot collide ("ab"+"c" vs "a"+"bc").
func (k Key) computeDigest() string {
	h := sha256.New()

	var buf [8]byte
	writeField := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}

	writeField(k.Bucket)
	writeField(k.Path)
	writeField(k.Variant)

	binary.LittleEndian.PutUint64(buf[:], uint64(k.RangeOffset))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(k.RangeLength))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}
