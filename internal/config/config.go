package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config contains all runtime settings, sourced from CONTEXTD_* environment
// variables (loaded from .env for local runs). Read once at startup and
// immutable for the process lifetime.
type Config struct {
	BindAddr         string        `split_words:"true" default:":8085"`
	ShutdownTimeout  time.Duration `split_words:"true" default:"15s"`
	MetricsNamespace string        `split_words:"true" default:"contextd"`
	AllowAnyOrigin   bool          `split_words:"true" default:"false"`
	LogLevel         string        `split_words:"true" default:"info"`
	Pretty           bool          `default:"false"`

	// Durable store. Empty DatabaseURL selects the in-memory store.
	DatabaseURL  string        `split_words:"true"`
	StoreTimeout time.Duration `split_words:"true" default:"5s"`

	// Relevance scoring.
	Scorer             string        `default:"keyword"`
	SbertURL           string        `envconfig:"SBERT_URL"`
	EmbedTimeout       time.Duration `split_words:"true" default:"10s"`
	EmbeddingCacheSize int           `split_words:"true" default:"512"`

	// Context-window policy.
	ArchiveThreshold  float64 `split_words:"true" default:"0.8"`
	RetrieveThreshold float64 `split_words:"true" default:"0.3"`
	ArchivePercentage float64 `split_words:"true" default:"0.3"`
	MinRelevanceScore float64 `split_words:"true" default:"0.2"`
	RetrieveLimit     int     `split_words:"true" default:"5"`
	SummaryThreshold  float64 `split_words:"true" default:"0.1"`
	SummaryLimit      int     `split_words:"true" default:"10"`
	MaxWordCount      int     `split_words:"true" default:"2000"`
}

// Load reads environment variables, applies defaults, and validates.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("contextd", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, v := range map[string]float64{
		"CONTEXTD_ARCHIVE_THRESHOLD":   c.ArchiveThreshold,
		"CONTEXTD_RETRIEVE_THRESHOLD":  c.RetrieveThreshold,
		"CONTEXTD_ARCHIVE_PERCENTAGE":  c.ArchivePercentage,
		"CONTEXTD_MIN_RELEVANCE_SCORE": c.MinRelevanceScore,
		"CONTEXTD_SUMMARY_THRESHOLD":   c.SummaryThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.RetrieveLimit <= 0 {
		return fmt.Errorf("CONTEXTD_RETRIEVE_LIMIT must be positive, got %d", c.RetrieveLimit)
	}
	if c.SummaryLimit <= 0 {
		return fmt.Errorf("CONTEXTD_SUMMARY_LIMIT must be positive, got %d", c.SummaryLimit)
	}
	if c.MaxWordCount <= 0 {
		return fmt.Errorf("CONTEXTD_MAX_WORD_COUNT must be positive, got %d", c.MaxWordCount)
	}
	return nil
}
