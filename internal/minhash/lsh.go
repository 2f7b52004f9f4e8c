package minhash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultThreshold is the default Jaccard similarity above which two blocks
// are treated as near-duplicates.
const DefaultThreshold = 0.9

// minRecall is the candidate probability required at the threshold when the
// band layout is derived.
const minRecall = 0.95

// ErrSignatureLength is returned when a signature does not match the index layout.
var ErrSignatureLength = errors.New("signature length mismatch")

// IndexOptions configures an Index.
type IndexOptions struct {
	NumPerm   int
	Threshold float64
	// Bands is the number of LSH bands; it must divide NumPerm.
	// Zero derives the layout from Threshold.
	Bands int
	// Verify keeps signatures and confirms candidates by estimated Jaccard.
	Verify bool
}

// DefaultIndexOptions returns the layout used when nothing is configured.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{NumPerm: DefaultNumPerm, Threshold: DefaultThreshold}
}

// Validate checks the option ranges.
func (o IndexOptions) Validate() error {
	if o.NumPerm <= 0 {
		return fmt.Errorf("num_permutations must be > 0 (got %d)", o.NumPerm)
	}
	if o.Threshold <= 0 || o.Threshold >= 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1) (got %v)", o.Threshold)
	}
	if o.Bands < 0 {
		return fmt.Errorf("band_count must be >= 0 (got %d)", o.Bands)
	}
	if o.Bands > 0 && o.NumPerm%o.Bands != 0 {
		return fmt.Errorf("band_count %d does not divide num_permutations %d", o.Bands, o.NumPerm)
	}
	return nil
}

// Layout returns the (bands, rows) split the options resolve to.
func (o IndexOptions) Layout() (bands, rows int) {
	if o.Bands > 0 {
		return o.Bands, o.NumPerm / o.Bands
	}
	return OptimalBands(o.NumPerm, o.Threshold)
}

// CandidateProbability is the chance that two sets with Jaccard similarity s
// share at least one band: 1 - (1 - s^r)^b.
func CandidateProbability(s float64, bands, rows int) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(rows)), float64(bands))
}

// OptimalBands picks the layout with the most rows per band (fewest false
// positives) whose candidate probability at threshold is still at least 95%.
// If no layout reaches that, the one with the highest probability wins.
func OptimalBands(numPerm int, threshold float64) (bands, rows int) {
	bestBands, bestProb := numPerm, -1.0
	for b := 1; b <= numPerm; b++ {
		if numPerm%b != 0 {
			continue
		}
		r := numPerm / b
		p := CandidateProbability(threshold, b, r)
		if p >= minRecall {
			return b, r
		}
		if p > bestProb {
			bestBands, bestProb = b, p
		}
	}
	return bestBands, numPerm / bestBands
}

// Index is an append-only LSH index. The first occurrence of a group of
// near-duplicates stays in the index; later ones are only reported.
// All methods are safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	numPerm   int
	bands     int
	rows      int
	threshold float64
	verify    bool
	buckets   []map[uint64][]string
	sigs      map[string]Signature
	size      int
}

// NewIndex creates an empty index.
func NewIndex(opts IndexOptions) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	bands, rows := opts.Layout()

	ix := &Index{
		numPerm:   opts.NumPerm,
		bands:     bands,
		rows:      rows,
		threshold: opts.Threshold,
		verify:    opts.Verify,
		buckets:   make([]map[uint64][]string, bands),
	}
	for i := range ix.buckets {
		ix.buckets[i] = make(map[uint64][]string)
	}
	if opts.Verify {
		ix.sigs = make(map[string]Signature)
	}
	return ix, nil
}

// Layout returns the band and row counts in use.
func (ix *Index) Layout() (bands, rows int) {
	return ix.bands, ix.rows
}

// Len returns the number of inserted signatures.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Query returns the ids of previously inserted blocks that share a band with
// sig, each once. With verification on, candidates below the threshold by
// estimated Jaccard are left out.
func (ix *Index) Query(sig Signature) ([]string, error) {
	if len(sig) != ix.numPerm {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSignatureLength, len(sig), ix.numPerm)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.query(sig, ix.bandKeys(sig)), nil
}

// IsNearDuplicate reports whether any inserted block is a candidate for sig.
func (ix *Index) IsNearDuplicate(sig Signature) (bool, error) {
	ids, err := ix.Query(sig)
	return len(ids) > 0, err
}

// Insert adds sig under id.
func (ix *Index) Insert(id string, sig Signature) error {
	if len(sig) != ix.numPerm {
		return fmt.Errorf("%w: got %d, want %d", ErrSignatureLength, len(sig), ix.numPerm)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.insert(id, sig, ix.bandKeys(sig))
	return nil
}

// CheckAndInsert inserts sig under id unless it is a near-duplicate of an
// earlier block, in which case the matching ids are returned and nothing is
// inserted. Check and insert happen under one lock.
func (ix *Index) CheckAndInsert(id string, sig Signature) (dup bool, matches []string, err error) {
	if len(sig) != ix.numPerm {
		return false, nil, fmt.Errorf("%w: got %d, want %d", ErrSignatureLength, len(sig), ix.numPerm)
	}
	keys := ix.bandKeys(sig)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if matches = ix.query(sig, keys); len(matches) > 0 {
		return true, matches, nil
	}
	ix.insert(id, sig, keys)
	return false, nil, nil
}

// query expects the read lock to be held.
func (ix *Index) query(sig Signature, keys []uint64) []string {
	var out []string
	seen := make(map[string]struct{})
	for b, key := range keys {
		for _, id := range ix.buckets[b][key] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if ix.verify && ix.sigs[id].Jaccard(sig) < ix.threshold {
				continue
			}
			out = append(out, id)
		}
	}
	return out
}

// insert expects the write lock to be held.
func (ix *Index) insert(id string, sig Signature, keys []uint64) {
	for b, key := range keys {
		ix.buckets[b][key] = append(ix.buckets[b][key], id)
	}
	if ix.verify {
		ix.sigs[id] = sig
	}
	ix.size++
}

// bandKeys hashes each band's rows into one key.
func (ix *Index) bandKeys(sig Signature) []uint64 {
	keys := make([]uint64, ix.bands)
	buf := make([]byte, 8*ix.rows)
	for b := range keys {
		for r := 0; r < ix.rows; r++ {
			binary.LittleEndian.PutUint64(buf[r*8:], sig[b*ix.rows+r])
		}
		keys[b] = xxhash.Sum64(buf)
	}
	return keys
}
