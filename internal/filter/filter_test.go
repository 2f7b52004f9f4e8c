package filter

import (
	"strings"
	"testing"

	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goodText has 66 alphabetic tokens with a low stop-word ratio.
var goodText = strings.Repeat("Photosynthesis converts light energy into chemical energy stored in glucose molecules. "+
	"Chlorophyll pigments absorb red and blue wavelengths while reflecting green light. ", 3)

func newFilter(t *testing.T, mutate func(*Config)) *Filter {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func TestEvaluate(t *testing.T) {
	f := newFilter(t, nil)

	tests := []struct {
		name string
		text string
		want models.Verdict
	}{
		{"clean academic text", goodText, models.Kept()},
		{"ad keyword", "Sponsored content: buy now", models.Dropped(models.ReasonAdKeyword)},
		{"ad keyword any case", goodText + " ADVERTISEMENT", models.Dropped(models.ReasonAdKeyword)},
		{"ad keyword wins over reference", "sponsored [1]", models.Dropped(models.ReasonAdKeyword)},
		{"citation marker", goodText + " See [12] for details.", models.Dropped(models.ReasonReferencePattern)},
		{"references heading", "References\n" + goodText, models.Dropped(models.ReasonReferencePattern)},
		{"doi", goodText + " doi: 10.1000/xyz-123", models.Dropped(models.ReasonReferencePattern)},
		{"corresponding author", goodText + " Contact the corresponding author.", models.Dropped(models.ReasonAuthorInfo)},
		{"academic title", goodText + " Reviewed by Dr. Smith.", models.Dropped(models.ReasonAuthorInfo)},
		{"email address", goodText + " Write to jane@example.org today.", models.Dropped(models.ReasonAuthorInfo)},
		{"too short", "Too short to matter.", models.Dropped(models.ReasonLowQuality)},
		{"stop-word heavy", strings.Repeat("it is and the of to ", 10), models.Dropped(models.ReasonLowQuality)},
		{"no alphabetic tokens", "12345 67890 !!!", models.Dropped(models.ReasonLowQuality)},
		{"empty", "", models.Dropped(models.ReasonLowQuality)},
		{"symbol noise", goodText + strings.Repeat("$+<=>^|~", 60), models.Dropped(models.ReasonNonsense)},
		{"repeated letters", goodText + " Whaaaaat", models.Dropped(models.ReasonNonsense)},
		{"repeated digits", goodText + " 100000", models.Dropped(models.ReasonNonsense)},
		{"punctuation runs are not repeats", goodText + " wait....", models.Kept()},
		{"punctuation is not noise", goodText + strings.Repeat("(-\"'), ", 40), models.Kept()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Evaluate(tt.text))
		})
	}
}

func TestEvaluateTokenGuardSkipsLowQuality(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliett " +
		"kilo lima mike november oscar papa quebec romeo sierra tango"

	strict := newFilter(t, nil)
	assert.Equal(t, models.Dropped(models.ReasonLowQuality), strict.Evaluate(text))

	guarded := newFilter(t, func(c *Config) { c.MaxTokenGuard = 10 })
	assert.Equal(t, models.Kept(), guarded.Evaluate(text))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	plain := newFilter(t, nil)
	cached := newFilter(t, func(c *Config) { c.CacheSize = 2 })

	inputs := []string{goodText, "Sponsored", "", goodText + " Whaaaaat", "Too short", goodText}
	for round := 0; round < 3; round++ {
		for _, in := range inputs {
			assert.Equal(t, plain.Evaluate(in), cached.Evaluate(in))
		}
	}
}

func TestEvaluateRecordBlacklistedKey(t *testing.T) {
	f := newFilter(t, func(c *Config) { c.BlacklistKeys = []string{"case_history"} })

	assert.Equal(t, models.Dropped(models.ReasonBlacklistedKey),
		f.EvaluateRecord(models.Record{Key: "case_history", Text: goodText, OK: true}))
	assert.Equal(t, models.Kept(),
		f.EvaluateRecord(models.Record{Key: "text", Text: goodText, OK: true}))
}

func TestEvaluateRecordBlacklistIgnoresCase(t *testing.T) {
	f := newFilter(t, func(c *Config) { c.BlacklistKeys = []string{"Patient_Metadata"} })

	for _, key := range []string{"patient_metadata", "PATIENT_METADATA", "Patient_Metadata"} {
		assert.Equal(t, models.Dropped(models.ReasonBlacklistedKey),
			f.EvaluateRecord(models.Record{Key: key, Text: goodText, OK: true}), key)
	}
}

func TestEmptyPatternSetsDisableRule(t *testing.T) {
	f := newFilter(t, func(c *Config) { c.AuthorPatterns = []string{} })
	assert.Equal(t, models.Kept(), f.Evaluate(goodText+" corresponding author"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad reference pattern", func(c *Config) { c.ReferencePatterns = []string{"("} }},
		{"bad author pattern", func(c *Config) { c.AuthorPatterns = []string{"[a-"} }},
		{"negative min tokens", func(c *Config) { c.MinTokenCount = -1 }},
		{"stop-word ratio above one", func(c *Config) { c.MaxStopwordRatio = 1.5 }},
		{"zero guard", func(c *Config) { c.MaxTokenGuard = 0 }},
		{"repeat run of one", func(c *Config) { c.RepeatRun = 1 }},
		{"negative cache", func(c *Config) { c.CacheSize = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "don", "t", "stop"}, Tokens("hello, world! 42 don't-stop"))
	assert.Empty(t, Tokens("123 !!"))
}
