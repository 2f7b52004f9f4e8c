package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/textsieve/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProfileNames(t *testing.T) {
	assert.Equal(t, []string{"default", "legal", "medical", "social"}, ProfileNames())
}

func TestLoadProfileBuiltin(t *testing.T) {
	def := filter.DefaultConfig()

	t.Run("default", func(t *testing.T) {
		p, err := LoadProfile("", "")
		require.NoError(t, err)
		assert.Equal(t, DefaultProfile, p.Name)
		assert.Equal(t, def, p.Filter)
		assert.NotEmpty(t, p.Description)
	})

	t.Run("medical overrides named fields only", func(t *testing.T) {
		p, err := LoadProfile("medical", "")
		require.NoError(t, err)
		assert.Equal(t, 150, p.Filter.MinTokenCount)
		assert.Equal(t, []string{"clinical trial", "drug discount"}, p.Filter.AdKeywords)
		assert.Equal(t, []string{`\b(?:pmid|nih)\s*\d+\b`}, p.Filter.ReferencePatterns)
		assert.Equal(t, []string{"patient_metadata"}, p.Filter.BlacklistKeys)
		assert.Equal(t, def.MaxStopwordRatio, p.Filter.MaxStopwordRatio)
		assert.Equal(t, def.AuthorPatterns, p.Filter.AuthorPatterns)
	})

	t.Run("legal clears author patterns", func(t *testing.T) {
		p, err := LoadProfile("legal", "")
		require.NoError(t, err)
		assert.Empty(t, p.Filter.AuthorPatterns)
		assert.Equal(t, []string{"case_history"}, p.Filter.BlacklistKeys)
	})

	t.Run("social", func(t *testing.T) {
		p, err := LoadProfile("social", "")
		require.NoError(t, err)
		assert.Equal(t, 8, p.Workers)
		assert.Equal(t, 20, p.Filter.MinTokenCount)
		assert.Equal(t, 0.8, p.Filter.MaxStopwordRatio)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := LoadProfile("poetry", "")
		require.ErrorIs(t, err, ErrUnknownProfile)
		assert.Contains(t, err.Error(), "medical")
	})
}

func TestLoadProfileFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
forum:
  description: Forum dumps.
  filter:
    min_token_count: 10
    ad_keywords: ["promo code"]
medical:
  filter:
    min_token_count: 300
broken:
  filter:
    reference_patterns: ['(unclosed']
`), 0o600))

	t.Run("custom profile", func(t *testing.T) {
		p, err := LoadProfile("forum", path)
		require.NoError(t, err)
		assert.Equal(t, 10, p.Filter.MinTokenCount)
		assert.Equal(t, []string{"promo code"}, p.Filter.AdKeywords)
	})

	t.Run("file shadows builtin", func(t *testing.T) {
		p, err := LoadProfile("medical", path)
		require.NoError(t, err)
		assert.Equal(t, 300, p.Filter.MinTokenCount)
		assert.Equal(t, filter.DefaultConfig().AdKeywords, p.Filter.AdKeywords)
	})

	t.Run("builtin still reachable", func(t *testing.T) {
		p, err := LoadProfile("legal", path)
		require.NoError(t, err)
		assert.Equal(t, []string{"case_history"}, p.Filter.BlacklistKeys)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := LoadProfile("broken", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reference pattern")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProfile("forum", filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("list merges names", func(t *testing.T) {
		names, err := ListProfiles(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"broken", "default", "forum", "legal", "medical", "social"}, names)
	})
}

func TestProfileYAMLRoundTrip(t *testing.T) {
	p, err := LoadProfile("medical", "")
	require.NoError(t, err)

	data, err := p.YAML()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	back, err := LoadProfile("medical", path)
	require.NoError(t, err)
	assert.Equal(t, p, back)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "medical")
}
