// Package config loads textsieve settings from YAML and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/raphaelgruber/textsieve/internal/classifier"
	"github.com/raphaelgruber/textsieve/internal/db"
	"github.com/raphaelgruber/textsieve/internal/extract"
	"github.com/raphaelgruber/textsieve/internal/minhash"
	"github.com/raphaelgruber/textsieve/internal/parser"
	"github.com/raphaelgruber/textsieve/internal/service"
)

// ErrConfigInvalid wraps every validation failure. It is the same sentinel
// the pipeline returns, so callers need to check only one.
var ErrConfigInvalid = service.ErrConfigInvalid

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "./textsieve.yaml"

// Config is the root configuration.
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Parser     ParserConfig     `yaml:"parser"`
	Filter     FilterConfig     `yaml:"filter"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Output     OutputConfig     `yaml:"output"`
	Classifier ClassifierConfig `yaml:"classifier"`
	SurrealDB  SurrealDBConfig  `yaml:"surrealdb"`
	Log        LogConfig        `yaml:"log"`
}

// InputConfig controls which files are read.
type InputConfig struct {
	Recursive  bool     `yaml:"recursive"  env:"TEXTSIEVE_RECURSIVE"`
	Extensions []string `yaml:"extensions" env:"TEXTSIEVE_EXTENSIONS" env-default:".jsonl,.json,.txt"`
	HTML       string   `yaml:"html"       env:"TEXTSIEVE_HTML"       env-default:"never"`
}

// ParserConfig controls record recovery.
type ParserConfig struct {
	TextKeys       []string `yaml:"text_keys"        env:"TEXTSIEVE_TEXT_KEYS"        env-default:"text"`
	MaxRecordBytes int      `yaml:"max_record_bytes" env:"TEXTSIEVE_MAX_RECORD_BYTES" env-default:"16777216"`
}

// FilterConfig selects the heuristic profile.
type FilterConfig struct {
	Profile     string `yaml:"profile"      env:"TEXTSIEVE_PROFILE"           env-default:"default"`
	ProfileFile string `yaml:"profile_file" env:"TEXTSIEVE_PROFILE_FILE"`
	CacheSize   int    `yaml:"cache_size"   env:"TEXTSIEVE_FILTER_CACHE_SIZE" env-default:"0"`
}

// DedupConfig controls the MinHash LSH index.
type DedupConfig struct {
	Threshold       float64 `yaml:"threshold"        env:"TEXTSIEVE_THRESHOLD" env-default:"0.9"`
	NumPermutations int     `yaml:"num_permutations" env:"TEXTSIEVE_NUM_PERM"  env-default:"128"`
	BandCount       int     `yaml:"band_count"       env:"TEXTSIEVE_BANDS"     env-default:"0"`
	Seed            uint64  `yaml:"seed"             env:"TEXTSIEVE_SEED"      env-default:"0"`
	Verify          bool    `yaml:"verify"           env:"TEXTSIEVE_VERIFY"    env-default:"false"`
}

// PipelineConfig controls concurrency and reporting.
type PipelineConfig struct {
	Workers         int `yaml:"workers"           env:"TEXTSIEVE_WORKERS"           env-default:"1"`
	SinkBuffer      int `yaml:"sink_buffer"       env:"TEXTSIEVE_SINK_BUFFER"       env-default:"64"`
	ErrorSampleSize int `yaml:"error_sample_size" env:"TEXTSIEVE_ERROR_SAMPLE_SIZE" env-default:"10"`
}

// Output formats.
const (
	FormatText    = "text"
	FormatJSONL   = "jsonl"
	FormatSQLite  = "sqlite"
	FormatSurreal = "surreal"
)

// OutputConfig selects the sink.
type OutputConfig struct {
	Format    string `yaml:"format"     env:"TEXTSIEVE_OUTPUT_FORMAT" env-default:"text"`
	Path      string `yaml:"path"       env:"TEXTSIEVE_OUTPUT"        env-default:"-"`
	StatsPath string `yaml:"stats_path" env:"TEXTSIEVE_STATS"`
}

// ClassifierConfig configures the optional model stage.
type ClassifierConfig struct {
	Enabled         bool   `yaml:"enabled"           env:"TEXTSIEVE_CLASSIFY"            env-default:"false"`
	Provider        string `yaml:"provider"          env:"TEXTSIEVE_CLASSIFIER_PROVIDER" env-default:"ollama"`
	Model           string `yaml:"model"             env:"TEXTSIEVE_CLASSIFIER_MODEL"    env-default:"llama3.2"`
	OllamaHost      string `yaml:"ollama_host"       env:"OLLAMA_HOST"                   env-default:"http://localhost:11434"`
	OpenAIAPIKey    string `yaml:"openai_api_key"    env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	MaxChars        int    `yaml:"max_chars"         env:"TEXTSIEVE_CLASSIFIER_MAX_CHARS" env-default:"4000"`
}

// SurrealDBConfig holds the connection for the surreal output.
type SurrealDBConfig struct {
	URL       string `yaml:"url"        env:"SURREALDB_URL"        env-default:"ws://localhost:8000/rpc"`
	Namespace string `yaml:"namespace"  env:"SURREALDB_NAMESPACE"  env-default:"textsieve"`
	Database  string `yaml:"database"   env:"SURREALDB_DATABASE"   env-default:"runs"`
	User      string `yaml:"user"       env:"SURREALDB_USER"       env-default:"root"`
	Pass      string `yaml:"pass"       env:"SURREALDB_PASS"       env-default:"root"`
	AuthLevel string `yaml:"auth_level" env:"SURREALDB_AUTH_LEVEL" env-default:"root"`
}

// LogConfig holds logging settings. An empty file logs to stderr only.
type LogConfig struct {
	File  string `yaml:"file"  env:"TEXTSIEVE_LOG_FILE"`
	Level string `yaml:"level" env:"TEXTSIEVE_LOG_LEVEL" env-default:"INFO"`
}

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// path falls back to TEXTSIEVE_CONFIG, then DefaultPath if that file exists.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = getEnv("TEXTSIEVE_CONFIG", "")
	}
	explicitPath := path != ""
	if !explicitPath {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

// ParserOptions converts the parser section.
func (c *Config) ParserOptions() parser.Options {
	return parser.Options{
		TextKeys:       c.Parser.TextKeys,
		MaxRecordBytes: c.Parser.MaxRecordBytes,
	}
}

// IndexOptions converts the dedup section.
func (c *Config) IndexOptions() minhash.IndexOptions {
	return minhash.IndexOptions{
		NumPerm:   c.Dedup.NumPermutations,
		Threshold: c.Dedup.Threshold,
		Bands:     c.Dedup.BandCount,
		Verify:    c.Dedup.Verify,
	}
}

// HTMLMode returns the extraction mode of the input section.
func (c *Config) HTMLMode() extract.Mode {
	mode, err := extract.ParseMode(c.Input.HTML)
	if err != nil {
		return extract.ModeNever
	}
	return mode
}

// Profile resolves the configured filter profile.
func (c *Config) Profile() (Profile, error) {
	p, err := LoadProfile(c.Filter.Profile, c.Filter.ProfileFile)
	if err != nil {
		return Profile{}, err
	}
	p.Filter.CacheSize = c.Filter.CacheSize
	return p, nil
}

// ServiceConfig assembles the pipeline configuration. A profile that sets
// workers only applies when the workers setting was left at 1.
func (c *Config) ServiceConfig() (service.Config, error) {
	profile, err := c.Profile()
	if err != nil {
		return service.Config{}, err
	}

	workers := c.Pipeline.Workers
	if workers <= 1 && profile.Workers > 0 {
		workers = profile.Workers
	}

	return service.Config{
		Parser:          c.ParserOptions(),
		Filter:          profile.Filter,
		Index:           c.IndexOptions(),
		Seed:            c.Dedup.Seed,
		Workers:         workers,
		SinkBuffer:      c.Pipeline.SinkBuffer,
		ErrorSampleSize: c.Pipeline.ErrorSampleSize,
	}, nil
}

// ClassifierSettings converts the classifier section.
func (c *Config) ClassifierSettings() classifier.Config {
	return classifier.Config{
		Provider:        classifier.Provider(strings.ToLower(c.Classifier.Provider)),
		Model:           c.Classifier.Model,
		OllamaHost:      c.Classifier.OllamaHost,
		OpenAIAPIKey:    c.Classifier.OpenAIAPIKey,
		AnthropicAPIKey: c.Classifier.AnthropicAPIKey,
		MaxChars:        c.Classifier.MaxChars,
	}
}

// SurrealSettings converts the surrealdb section.
func (c *Config) SurrealSettings() db.Config {
	return db.Config{
		URL:       c.SurrealDB.URL,
		Namespace: c.SurrealDB.Namespace,
		Database:  c.SurrealDB.Database,
		Username:  c.SurrealDB.User,
		Password:  c.SurrealDB.Pass,
		AuthLevel: c.SurrealDB.AuthLevel,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
