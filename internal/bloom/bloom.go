// Package bloom implements the classic double-hashing Bloom filter used to
// short-circuit SSTable point lookups: given n_keys and bits_per_key, it
// allocates m = n_keys*bits_per_key bits (rounded up) and probes k bits per
// key derived from two base hashes by double hashing (h1 + i*h2). Lookups
// never produce false negatives, only false positives.
package bloom

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/zeebo/xxh3"
)

// BloomHash hashes a user key to a single u64 used to derive the two base
// hashes fed into the double-hashing probe sequence.
//
// It is a single xxh3.Hash (XXH3-64) pass over key; the probe sequence uses
// its low 32 bits as h1 and its high 32 bits as h2, so no second hash is
// computed per key.
func BloomHash(key []byte) uint64 {
	return xxh3.Hash(key)
}

// Filter is a fixed-size Bloom filter over a set of keys, built once and
// queried many times.
type Filter struct {
	bits *bitset.BitSet
	k    uint
	m    uint
}

// New allocates a Filter sized for nKeys entries at bitsPerKey bits per key.
// bitsPerKey below 1 is treated as 1, and the filter never has fewer than
// 64 bits (so nKeys 0 still gets 64); a filter with nothing added reports
// false from MayContain.
func New(nKeys int, bitsPerKey int) *Filter {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	m := uint(nKeys * bitsPerKey)
	if m < 64 {
		m = 64
	}
	k := optimalK(bitsPerKey)
	return &Filter{bits: bitset.New(m), k: k, m: m}
}

// optimalK picks the number of hash probes that minimizes the false-positive
// rate for the given bits-per-key ratio: k = ln(2) * (m/n).
func optimalK(bitsPerKey int) uint {
	k := uint(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// probes derives the k probe positions for a hash via double hashing:
// h1 + i*h2 for i in [0, k), taken modulo the bit array length.
func (f *Filter) probes(hash uint64) func(yield func(uint) bool) {
	h1 := uint32(hash)
	h2 := uint32(hash >> 32)
	return func(yield func(uint) bool) {
		h := h1
		for i := uint(0); i < f.k; i++ {
			pos := uint(h) % f.m
			if !yield(pos) {
				return
			}
			h += h2
		}
	}
}

// Add records hash (typically BloomHash(userKey)) as a member of the filter.
func (f *Filter) Add(hash uint64) {
	f.probes(hash)(func(pos uint) bool {
		f.bits.Set(pos)
		return true
	})
}

// MayContain reports whether hash might be a member. False positives are
// possible; false negatives are not — if the key was ever Added with this
// hash, MayContain always returns true.
func (f *Filter) MayContain(hash uint64) bool {
	found := true
	f.probes(hash)(func(pos uint) bool {
		if !f.bits.Test(pos) {
			found = false
			return false
		}
		return true
	})
	return found
}

// Bytes serializes the filter to a flat byte slice: u32 k, u32 m, then the
// bit array's little-endian word representation.
func (f *Filter) Bytes() []byte {
	words := f.bits.Bytes()
	out := make([]byte, 8, 8+len(words)*8)
	out[0], out[1], out[2], out[3] = byte(f.k), byte(f.k>>8), byte(f.k>>16), byte(f.k>>24)
	out[4], out[5], out[6], out[7] = byte(f.m), byte(f.m>>8), byte(f.m>>16), byte(f.m>>24)
	for _, w := range words {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(w >> (8 * i))
		}
		out = append(out, b[:]...)
	}
	return out
}

// Decode reconstructs a Filter from bytes produced by Bytes.
func Decode(data []byte) (*Filter, bool) {
	if len(data) < 8 {
		return nil, false
	}
	k := uint(data[0]) | uint(data[1])<<8 | uint(data[2])<<16 | uint(data[3])<<24
	m := uint(data[4]) | uint(data[5])<<8 | uint(data[6])<<16 | uint(data[7])<<24
	rest := data[8:]
	words := make([]uint64, 0, len(rest)/8)
	for i := 0; i+8 <= len(rest); i += 8 {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(rest[i+j]) << (8 * j)
		}
		words = append(words, w)
	}
	bs := bitset.From(words)
	return &Filter{bits: bs, k: k, m: m}, true
}
