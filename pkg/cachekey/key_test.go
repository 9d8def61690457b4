package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestDeterministic(t *testing.T) {
	t.Parallel()

	a := New("assets", "images/logo.png", "gzip")
	b := New("assets", "images/logo.png", "gzip")

	assert.Equal(t, a.Digest(), b.Digest(), "identical logical requests must produce identical keys")
	assert.Len(t, a.Digest(), 64, "digest should be hex-encoded SHA-256")
}

func TestDigestDistinguishesAttributes(t *testing.T) {
	t.Parallel()

	base := New("assets", "images/logo.png", "identity")

	tests := []struct {
		name  string
		other Key
	}{
		{"different bucket", New("media", "images/logo.png", "identity")},
		{"different path", New("assets", "images/logo2.png", "identity")},
		{"different variant", New("assets", "images/logo.png", "gzip")},
		{"range window", NewRange("assets", "images/logo.png", "identity", 0, 1024)},
		{"different range offset", NewRange("assets", "images/logo.png", "identity", 512, 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base.Digest(), tt.other.Digest())
		})
	}
}

func TestDigestFieldBoundaries(t *testing.T) {
	t.Parallel()

	// Concatenated attributes must not collide across field boundaries.
	a := New("ab", "c", "")
	b := New("a", "bc", "")
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestZeroValueKeyDigest(t *testing.T) {
	t.Parallel()

	var k Key
	assert.Len(t, k.Digest(), 64)
	assert.Equal(t, k.Digest(), Key{}.Digest())
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "assets/a.png", New("assets", "a.png", "").String())
	assert.Equal(t, "assets/a.png@gzip", New("assets", "a.png", "gzip").String())
	assert.Equal(t, "assets/a.png@identity[0:100]", NewRange("assets", "a.png", "identity", 0, 100).String())
}
