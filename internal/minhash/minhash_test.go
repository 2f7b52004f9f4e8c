package minhash

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, opts IndexOptions) *Index {
	t.Helper()
	ix, err := NewIndex(opts)
	require.NoError(t, err)
	return ix
}

func words(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestSignatureDeterministic(t *testing.T) {
	a := NewHasher(DefaultNumPerm, 1)
	b := NewHasher(DefaultNumPerm, 1)

	text := "the quick brown fox jumps over the lazy dog"
	assert.Equal(t, a.Signature(text), b.Signature(text))
	assert.Len(t, a.Signature(text), DefaultNumPerm)

	other := NewHasher(DefaultNumPerm, 2)
	assert.NotEqual(t, a.Signature(text), other.Signature(text))
}

func TestSignatureIgnoresTokenOrderAndRepeats(t *testing.T) {
	h := NewHasher(DefaultNumPerm, 1)
	assert.Equal(t, h.Signature("a b c"), h.Signature("c  b\na a"))
}

func TestSignatureEmptyText(t *testing.T) {
	h := NewHasher(DefaultNumPerm, 1)

	sig := h.Signature("   ")
	assert.True(t, sig.IsEmpty())
	for _, v := range sig {
		assert.Equal(t, uint64(Empty), v)
	}
	assert.False(t, h.Signature("word").IsEmpty())
}

func TestJaccardEstimate(t *testing.T) {
	h := NewHasher(256, 7)

	// 150 shared tokens out of a 250-token union: J = 0.6
	shared := words("s", 150)
	a := h.Signature(strings.Join(append(words("a", 50), shared...), " "))
	b := h.Signature(strings.Join(append(words("b", 50), shared...), " "))

	assert.InDelta(t, 0.6, a.Jaccard(b), 0.12)
	assert.Equal(t, 1.0, a.Jaccard(a))
	assert.Equal(t, 0.0, a.Jaccard(a[:10]))
}

func TestOptimalBands(t *testing.T) {
	b, r := OptimalBands(128, 0.9)
	assert.Equal(t, 16, b)
	assert.Equal(t, 8, r)
	assert.GreaterOrEqual(t, CandidateProbability(0.9, b, r), 0.95)

	lowB, lowR := OptimalBands(128, 0.5)
	assert.Equal(t, 128, lowB*lowR)
	assert.Greater(t, lowB, b, "a lower threshold needs more, shorter bands")
}

func TestIndexOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts IndexOptions
		ok   bool
	}{
		{"defaults", DefaultIndexOptions(), true},
		{"explicit bands", IndexOptions{NumPerm: 128, Threshold: 0.9, Bands: 32}, true},
		{"bands do not divide", IndexOptions{NumPerm: 128, Threshold: 0.9, Bands: 3}, false},
		{"threshold zero", IndexOptions{NumPerm: 128, Threshold: 0}, false},
		{"threshold one", IndexOptions{NumPerm: 128, Threshold: 1}, false},
		{"no permutations", IndexOptions{NumPerm: 0, Threshold: 0.9}, false},
		{"negative bands", IndexOptions{NumPerm: 128, Threshold: 0.9, Bands: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIndexIdenticalTextsAreDuplicates(t *testing.T) {
	h := NewHasher(DefaultNumPerm, 1)
	ix := newIndex(t, DefaultIndexOptions())

	sig := h.Signature("identical text about protein folding")
	dup, err := ix.IsNearDuplicate(sig)
	require.NoError(t, err)
	assert.False(t, dup, "empty index has no duplicates")

	require.NoError(t, ix.Insert("text_1", sig))
	dup, err = ix.IsNearDuplicate(h.Signature("identical text about protein folding"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, ix.Len())
}

func TestIndexDisjointTextsAreNotDuplicates(t *testing.T) {
	h := NewHasher(DefaultNumPerm, 1)
	ix := newIndex(t, DefaultIndexOptions())

	require.NoError(t, ix.Insert("text_1", h.Signature(strings.Join(words("x", 200), " "))))
	ids, err := ix.Query(h.Signature(strings.Join(words("y", 200), " ")))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndexFirstOccurrenceWins(t *testing.T) {
	h := NewHasher(DefaultNumPerm, 1)
	ix := newIndex(t, DefaultIndexOptions())

	a := strings.Join(words("w", 100), " ")
	b := strings.Join(words("z", 100), " ")
	aPrime := a + " extra"

	var kept []string
	for i, text := range []string{a, b, aPrime} {
		id := fmt.Sprintf("text_%d", i+1)
		dup, matches, err := ix.CheckAndInsert(id, h.Signature(text))
		require.NoError(t, err)
		if dup {
			assert.Equal(t, []string{"text_1"}, matches)
			continue
		}
		kept = append(kept, id)
	}

	assert.Equal(t, []string{"text_1", "text_2"}, kept)
	assert.Equal(t, 2, ix.Len())
}

func TestIndexRejectsWrongSignatureLength(t *testing.T) {
	ix := newIndex(t, DefaultIndexOptions())

	err := ix.Insert("x", make(Signature, 10))
	assert.ErrorIs(t, err, ErrSignatureLength)
	_, err = ix.Query(make(Signature, 10))
	assert.ErrorIs(t, err, ErrSignatureLength)
	_, _, err = ix.CheckAndInsert("x", make(Signature, 10))
	assert.ErrorIs(t, err, ErrSignatureLength)
}

func TestIndexVerifyDropsWeakCandidates(t *testing.T) {
	// One row per band makes almost any overlap a candidate.
	opts := IndexOptions{NumPerm: 64, Threshold: 0.9, Bands: 64, Verify: true}
	h := NewHasher(64, 3)

	shared := words("s", 50)
	a := h.Signature(strings.Join(append(words("a", 50), shared...), " "))
	b := h.Signature(strings.Join(append(words("b", 50), shared...), " "))

	loose := newIndex(t, IndexOptions{NumPerm: 64, Threshold: 0.9, Bands: 64})
	require.NoError(t, loose.Insert("a", a))
	dup, err := loose.IsNearDuplicate(b)
	require.NoError(t, err)
	assert.True(t, dup, "J=0.33 shares a single-row band")

	strict := newIndex(t, opts)
	require.NoError(t, strict.Insert("a", a))
	dup, err = strict.IsNearDuplicate(b)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = strict.IsNearDuplicate(a)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestIndexDetectionRate(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}

	const trials = 1000
	detected := 0
	for trial := 0; trial < trials; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		h := NewHasher(DefaultNumPerm, uint64(trial)+1)
		ix := newIndex(t, DefaultIndexOptions())

		// Each text has 100 tokens, 95 of them shared.
		shared := make([]string, 95)
		for i := range shared {
			shared[i] = fmt.Sprintf("t%d", rng.Int63())
		}
		a := append(append([]string{}, shared...), words(fmt.Sprintf("a%d_", trial), 5)...)
		b := append(append([]string{}, shared...), words(fmt.Sprintf("b%d_", trial), 5)...)
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })

		require.NoError(t, ix.Insert("a", h.Signature(strings.Join(a, " "))))
		dup, err := ix.IsNearDuplicate(h.Signature(strings.Join(b, " ")))
		require.NoError(t, err)
		if dup {
			detected++
		}
	}

	rate := float64(detected) / trials
	assert.Greater(t, rate, 0.9, "detection rate %.3f", rate)
}
