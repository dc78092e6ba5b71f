// Package util contains internal helpers (fingerprinting, pow2, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"

	xxhash "github.com/cespare/xxhash/v2"
)

// Fingerprint32 derives a 32-bit fingerprint for a key using 64-bit
// xxhash, folding the result down to 32 bits.
//
// The cache core never hashes keys itself — it consumes a pre-computed
// fingerprint — but callers (examples, benchmarks, tests) need a stable
// way to go from a key to a fingerprint, so it lives here rather than in
// the core packages.
func Fingerprint32(key []byte) uint32 {
	h := xxhash.Sum64(key)
	return uint32(h ^ (h >> 32))
}

// FingerprintString is a convenience wrapper around Fingerprint32 for
// string keys.
func FingerprintString(key string) uint32 {
	return Fingerprint32([]byte(key))
}

// Fnv64a hashes common key types using 64-bit FNV-1a. Kept for callers
// that need a dependency-free hash, e.g. cmd/bench's shard routing.
// Panicking on unsupported types is deliberate to avoid silently poor hashing.
func Fnv64a[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return fnv64aFromBytes([]byte(v))
	case []byte:
		return fnv64aFromBytes(v)
	case uint32:
		return fnv64aFromUint64(uint64(v))
	case uint64:
		return fnv64aFromUint64(v)
	case int:
		return fnv64aFromUint64(uint64(v))
	case int64:
		return fnv64aFromUint64(uint64(v))
	case fmt.Stringer:
		return fnv64aFromBytes([]byte(v.String()))
	default:
		panic(fmt.Sprintf("util.Fnv64a: unsupported key type %T; convert key to string or provide a custom hasher", k))
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

func fnv64aFromBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

func fnv64aFromUint64(u uint64) uint64 {
	// Hash the 8 little-endian bytes of u without allocating.
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
