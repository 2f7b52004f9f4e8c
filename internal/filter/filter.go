// Package filter decides whether a text block is worth keeping.
package filter

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raphaelgruber/textsieve/internal/models"
)

//go:embed stopwords_en.txt
var stopwordsEN string

// Filter applies the quality rules in a fixed order; the first matching rule
// decides the verdict. A Filter is immutable after construction and safe for
// concurrent use.
type Filter struct {
	cfg        Config
	adKeywords []string
	references *regexp.Regexp
	authors    *regexp.Regexp
	stopwords  map[string]struct{}
	blacklist  map[string]struct{}
	cache      *lru.Cache[uint64, models.Verdict]
}

// New compiles cfg into a Filter.
func New(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Filter{
		cfg:       cfg,
		stopwords: make(map[string]struct{}),
		blacklist: make(map[string]struct{}, len(cfg.BlacklistKeys)),
	}

	for _, kw := range cfg.AdKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			f.adKeywords = append(f.adKeywords, kw)
		}
	}

	var err error
	if f.references, err = compileAny(cfg.ReferencePatterns); err != nil {
		return nil, fmt.Errorf("reference patterns: %w", err)
	}
	if f.authors, err = compileAny(cfg.AuthorPatterns); err != nil {
		return nil, fmt.Errorf("author patterns: %w", err)
	}

	words := cfg.Stopwords
	if len(words) == 0 {
		words = strings.Fields(stopwordsEN)
	}
	for _, w := range words {
		f.stopwords[strings.ToLower(w)] = struct{}{}
	}
	for _, k := range cfg.BlacklistKeys {
		f.blacklist[strings.ToLower(k)] = struct{}{}
	}

	if cfg.CacheSize > 0 {
		f.cache, err = lru.New[uint64, models.Verdict](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create verdict cache: %w", err)
		}
	}

	return f, nil
}

// compileAny joins patterns into one case-insensitive alternation.
// It returns nil when there are no patterns.
func compileAny(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = "(?:" + p + ")"
	}
	return regexp.Compile("(?i)" + strings.Join(parts, "|"))
}

// Config returns the configuration the filter was built from.
func (f *Filter) Config() Config {
	return f.cfg
}

// EvaluateRecord drops records whose text came from a blacklisted key, then
// evaluates the text.
func (f *Filter) EvaluateRecord(rec models.Record) models.Verdict {
	if _, ok := f.blacklist[strings.ToLower(rec.Key)]; ok && rec.Key != "" {
		return models.Dropped(models.ReasonBlacklistedKey)
	}
	return f.Evaluate(rec.Text)
}

// Evaluate returns the verdict for text. Identical input always yields the
// identical verdict.
func (f *Filter) Evaluate(text string) models.Verdict {
	if f.cache == nil {
		return f.evaluate(text)
	}

	key := xxhash.Sum64String(text)
	if v, ok := f.cache.Get(key); ok {
		return v
	}
	v := f.evaluate(text)
	f.cache.Add(key, v)
	return v
}

func (f *Filter) evaluate(text string) models.Verdict {
	lower := strings.ToLower(text)

	for _, kw := range f.adKeywords {
		if strings.Contains(lower, kw) {
			return models.Dropped(models.ReasonAdKeyword)
		}
	}
	if f.references != nil && f.references.MatchString(text) {
		return models.Dropped(models.ReasonReferencePattern)
	}
	if f.authors != nil && f.authors.MatchString(text) {
		return models.Dropped(models.ReasonAuthorInfo)
	}
	if f.lowQuality(lower) {
		return models.Dropped(models.ReasonLowQuality)
	}
	if f.nonsense(text) {
		return models.Dropped(models.ReasonNonsense)
	}
	return models.Kept()
}

// lowQuality expects lowercased text.
func (f *Filter) lowQuality(lower string) bool {
	tokens := Tokens(lower)
	if len(tokens) > f.cfg.MaxTokenGuard {
		return false
	}
	if len(tokens) == 0 || len(tokens) < f.cfg.MinTokenCount {
		return true
	}

	stop := 0
	for _, tok := range tokens {
		if _, ok := f.stopwords[tok]; ok {
			stop++
		}
	}
	return float64(stop)/float64(len(tokens)) > f.cfg.MaxStopwordRatio
}

func (f *Filter) nonsense(text string) bool {
	total, noise, run := 0, 0, 0
	var prev rune = -1
	for _, r := range text {
		total++
		if isNoise(r) {
			noise++
		}

		if r == prev && isWordRune(r) {
			run++
		} else {
			run = 1
		}
		if run >= f.cfg.RepeatRun && isWordRune(r) {
			return true
		}
		prev = r
	}
	if total == 0 {
		return false
	}
	return float64(noise)/float64(total) > f.cfg.NoiseRatio
}

// Tokens splits text into runs of letters.
func Tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isNoise reports characters that are neither alphanumeric, whitespace,
// punctuation nor combining marks.
func isNoise(r rune) bool {
	return !(isWordRune(r) || unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsMark(r))
}
