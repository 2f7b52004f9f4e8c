// Package classifier asks a chat model whether a text block is worth keeping.
//
// The model is an opaque collaborator: the pipeline only sees a boolean.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names a supported LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// DefaultMaxChars caps how much of a block is sent to the model.
const DefaultMaxChars = 4000

// Classifier decides whether a block should be kept.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// Config selects and configures the backing model.
type Config struct {
	Provider        Provider
	Model           string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	// MaxChars truncates text (in runes) before it is sent. Zero means DefaultMaxChars.
	MaxChars int
}

const systemPrompt = `You screen text passages for a training corpus.
Answer KEEP if the passage is coherent, informative prose.
Answer DROP if it is boilerplate, navigation, advertising, a reference list, or gibberish.
Reply with exactly one word: KEEP or DROP.`

// Model wraps a langchaingo model as a Classifier.
type Model struct {
	llm       llms.Model
	modelName string
	maxChars  int
	metrics   *metrics.Collector
}

// NewModel creates a classifier based on configuration. collector may be nil.
func NewModel(cfg Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return newModelWithLLM(model, cfg, collector), nil
}

func newModelWithLLM(llm llms.Model, cfg Config, collector *metrics.Collector) *Model {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Model{
		llm:       llm,
		modelName: cfg.Model,
		maxChars:  maxChars,
		metrics:   collector,
	}
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Classify reports whether text should be kept. Errors wrapping ErrFatalAPI
// mean the provider will keep failing.
func (m *Model) Classify(ctx context.Context, text string) (bool, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, truncate(text, m.maxChars)),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithMaxTokens(4),
	)
	if err != nil {
		m.metrics.RecordTiming(metrics.OpClassify, time.Since(start))
		return false, wrapFatalError(fmt.Errorf("classify: %w", err))
	}
	if len(response.Choices) == 0 {
		m.metrics.RecordTiming(metrics.OpClassify, time.Since(start))
		return false, fmt.Errorf("classify: no response choices")
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpClassify, time.Since(start), in, out)

	return parseDecision(choice.Content)
}

// parseDecision reads the first word of a model answer.
func parseDecision(answer string) (bool, error) {
	word, _, _ := strings.Cut(strings.TrimSpace(answer), " ")
	word = strings.TrimFunc(strings.ToLower(word), func(r rune) bool { return !unicode.IsLetter(r) })
	switch word {
	case "keep", "yes":
		return true, nil
	case "drop", "no":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUndecided, answer)
	}
}

func truncate(text string, maxChars int) string {
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// tokenUsage reads token counts from provider generation info. Providers
// disagree on key names.
func tokenUsage(info map[string]any) (in, out int64) {
	in = firstInt(info, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
	out = firstInt(info, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
