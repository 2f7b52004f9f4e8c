package filter

import (
	"fmt"
	"regexp"
)

// Config defines the quality heuristics. Profiles are decoded onto
// DefaultConfig, so a field left out of a profile keeps its default.
type Config struct {
	// MinTokenCount: blocks with fewer alphabetic tokens are low quality
	MinTokenCount int `yaml:"min_token_count"`
	// MaxStopwordRatio: blocks whose stop-word fraction exceeds this are low quality
	MaxStopwordRatio float64 `yaml:"max_stopword_ratio"`
	// MaxTokenGuard: blocks with more tokens skip the low-quality rule
	MaxTokenGuard int `yaml:"max_token_guard"`
	// NoiseRatio: blocks whose symbol fraction exceeds this are nonsense
	NoiseRatio float64 `yaml:"noise_ratio"`
	// RepeatRun: this many identical word characters in a row is nonsense
	RepeatRun int `yaml:"repeat_run"`

	AdKeywords        []string `yaml:"ad_keywords"`
	ReferencePatterns []string `yaml:"reference_patterns"`
	AuthorPatterns    []string `yaml:"author_patterns"`
	BlacklistKeys     []string `yaml:"blacklist_keys"`

	// Stopwords replaces the built-in English list when non-empty.
	Stopwords []string `yaml:"stopwords,omitempty"`

	// CacheSize enables verdict memoization for up to this many texts.
	CacheSize int `yaml:"cache_size,omitempty"`
}

// DefaultConfig returns the academic-corpus defaults.
func DefaultConfig() Config {
	return Config{
		MinTokenCount:    50,
		MaxStopwordRatio: 0.6,
		MaxTokenGuard:    10000,
		NoiseRatio:       0.3,
		RepeatRun:        4,
		AdKeywords:       []string{"sponsored", "advertisement"},
		ReferencePatterns: []string{
			`\b(?:references|bibliography)\b`,
			`\[\d+\]`,
			`\bdoi:\s*\d+\.\d+/[\w.-]+`,
		},
		AuthorPatterns: []string{
			`\b(?:corresponding author|email|@\w+\.\w{2,3})\b`,
			`\b(?:prof\.|dr\.|ph\.d\.)`,
		},
		BlacklistKeys: []string{},
	}
}

// Validate checks ranges and that every pattern compiles.
func (c Config) Validate() error {
	if c.MinTokenCount < 0 {
		return fmt.Errorf("min_token_count must be >= 0 (got %d)", c.MinTokenCount)
	}
	if c.MaxStopwordRatio < 0 || c.MaxStopwordRatio > 1 {
		return fmt.Errorf("max_stopword_ratio must be in [0,1] (got %v)", c.MaxStopwordRatio)
	}
	if c.MaxTokenGuard <= 0 {
		return fmt.Errorf("max_token_guard must be > 0 (got %d)", c.MaxTokenGuard)
	}
	if c.NoiseRatio <= 0 || c.NoiseRatio > 1 {
		return fmt.Errorf("noise_ratio must be in (0,1] (got %v)", c.NoiseRatio)
	}
	if c.RepeatRun < 2 {
		return fmt.Errorf("repeat_run must be >= 2 (got %d)", c.RepeatRun)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0 (got %d)", c.CacheSize)
	}
	for _, p := range c.ReferencePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("reference pattern %q: %w", p, err)
		}
	}
	for _, p := range c.AuthorPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("author pattern %q: %w", p, err)
		}
	}
	return nil
}
