// Package minhash estimates Jaccard similarity between token sets with MinHash
// signatures and finds near-duplicates through an LSH band index.
package minhash

import (
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultNumPerm is the default signature length.
const DefaultNumPerm = 128

// Empty is the value of every slot in the signature of a text without tokens.
const Empty = math.MaxUint64

// Signature holds one minimum hash per permutation.
type Signature []uint64

// IsEmpty reports whether the signature belongs to a text without tokens.
func (s Signature) IsEmpty() bool {
	for _, v := range s {
		if v != Empty {
			return false
		}
	}
	return true
}

// Jaccard estimates the Jaccard similarity of the two token sets as the
// fraction of matching slots. Signatures of different length compare as 0.
func (s Signature) Jaccard(o Signature) float64 {
	if len(s) == 0 || len(s) != len(o) {
		return 0
	}
	same := 0
	for i := range s {
		if s[i] == o[i] {
			same++
		}
	}
	return float64(same) / float64(len(s))
}

// Hasher computes signatures. It is immutable and safe for concurrent use.
type Hasher struct {
	seeds []uint64
}

// NewHasher derives numPerm permutation seeds from seed. Two hashers built
// with the same arguments produce identical signatures.
func NewHasher(numPerm int, seed uint64) *Hasher {
	seeds := make([]uint64, numPerm)
	state := seed
	for i := range seeds {
		state += 0x9e3779b97f4a7c15
		seeds[i] = mix64(state)
	}
	return &Hasher{seeds: seeds}
}

// NumPerm returns the signature length.
func (h *Hasher) NumPerm() int {
	return len(h.seeds)
}

// Signature returns the MinHash signature of text's whitespace tokens.
func (h *Hasher) Signature(text string) Signature {
	sig := make(Signature, len(h.seeds))
	for i := range sig {
		sig[i] = Empty
	}

	for _, tok := range strings.Fields(text) {
		base := xxhash.Sum64String(tok)
		for i, seed := range h.seeds {
			if v := mix64(base ^ seed); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// mix64 is the splitmix64 finalizer; it turns base^seed into an independent
// looking 64-bit value per seed.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
