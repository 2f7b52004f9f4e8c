package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/classifier"
	"github.com/raphaelgruber/textsieve/internal/extract"
)

// Validate performs range and consistency checks. Every error wraps
// ErrConfigInvalid. Load calls it automatically.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"input", c.Input.validate},
		{"parser", c.Parser.validate},
		{"dedup", c.validateDedup},
		{"pipeline", c.Pipeline.validate},
		{"output", c.Output.validate},
		{"classifier", c.Classifier.validate},
		{"log", c.Log.validate},
		{"filter", c.validateFilter},
	}
	for _, s := range checks {
		if err := s.check(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfigInvalid, s.section, err)
		}
	}
	return nil
}

func (i *InputConfig) validate() error {
	_, err := extract.ParseMode(i.HTML)
	return err
}

func (p *ParserConfig) validate() error {
	if len(p.TextKeys) == 0 {
		return fmt.Errorf("text_keys must not be empty")
	}
	for _, k := range p.TextKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("text_keys must not contain blank keys")
		}
	}
	if p.MaxRecordBytes <= 0 {
		return fmt.Errorf("max_record_bytes must be > 0 (got %d)", p.MaxRecordBytes)
	}
	return nil
}

func (c *Config) validateDedup() error {
	return c.IndexOptions().Validate()
}

func (p *PipelineConfig) validate() error {
	if p.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", p.Workers)
	}
	if p.SinkBuffer <= 0 {
		return fmt.Errorf("sink_buffer must be > 0 (got %d)", p.SinkBuffer)
	}
	if p.ErrorSampleSize < 0 {
		return fmt.Errorf("error_sample_size must be >= 0 (got %d)", p.ErrorSampleSize)
	}
	return nil
}

func (o *OutputConfig) validate() error {
	formats := []string{FormatText, FormatJSONL, FormatSQLite, FormatSurreal}
	if !slices.Contains(formats, o.Format) {
		return fmt.Errorf("format must be one of %s (got %q)", strings.Join(formats, ", "), o.Format)
	}
	if o.Format == FormatSQLite && (o.Path == "" || o.Path == "-") {
		return fmt.Errorf("sqlite output needs a database path")
	}
	return nil
}

func (c *ClassifierConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	switch classifier.Provider(strings.ToLower(c.Provider)) {
	case classifier.ProviderOllama:
	case classifier.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
	case classifier.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic provider needs ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.MaxChars < 0 {
		return fmt.Errorf("max_chars must be >= 0 (got %d)", c.MaxChars)
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch strings.ToUpper(l.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return nil
	default:
		return fmt.Errorf("level must be DEBUG, INFO, WARN or ERROR (got %q)", l.Level)
	}
}

func (c *Config) validateFilter() error {
	if c.Filter.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0 (got %d)", c.Filter.CacheSize)
	}
	_, err := c.Profile()
	return err
}
