// Package config holds the typed engine configuration. All knobs live here
// so components receive plain structs instead of reading global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"weaver/internal/errors"
)

// SectionRatios are the base shares of the total token limit per section.
// Reserved is the slice held back for the model response.
type SectionRatios struct {
	System       float64 `yaml:"system"`
	Query        float64 `yaml:"query"`
	Knowledge    float64 `yaml:"knowledge"`
	Conversation float64 `yaml:"conversation"`
	Reserved     float64 `yaml:"reserved"`
}

// RetrievalConfig tunes the retrieval pipeline.
type RetrievalConfig struct {
	TopK             int           `yaml:"top_k"`             // fine-grained selection size (default 5)
	SimilarityWeight float64       `yaml:"similarity_weight"` // rerank weight (default 0.7)
	RecencyWeight    float64       `yaml:"recency_weight"`    // rerank weight (default 0.2)
	AuthorityWeight  float64       `yaml:"authority_weight"`  // rerank weight (default 0.1)
	RecencyHalfLife  time.Duration `yaml:"recency_half_life"` // decay half-life for lastAccessed (default 24h)
}

// ConversationConfig tunes the sliding-window history.
type ConversationConfig struct {
	MaxHistoryTokens int `yaml:"max_history_tokens"` // default 2000
	KeepRecent       int `yaml:"keep_recent"`        // exchanges kept verbatim (default 3)
}

// CacheConfig sets the bounded cache sizes.
type CacheConfig struct {
	EmbeddingEntries   int `yaml:"embedding_entries"`   // default 4096
	RetrievalEntries   int `yaml:"retrieval_entries"`   // default 512
	CompositionEntries int `yaml:"composition_entries"` // default 256
}

// ProviderConfig bounds external provider calls.
type ProviderConfig struct {
	Timeout time.Duration `yaml:"timeout"` // per-call deadline (default 10s)
}

// ProfileConfig bounds the per-user profile history.
type ProfileConfig struct {
	MaxHistory int `yaml:"max_history"` // default 50
}

// Config is the complete engine configuration.
type Config struct {
	TotalTokenLimit int           `yaml:"total_token_limit"`
	MinSystemTokens int           `yaml:"min_system_tokens"`
	MinQueryTokens  int           `yaml:"min_query_tokens"`
	Ratios          SectionRatios `yaml:"ratios"`

	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
	Cache        CacheConfig        `yaml:"cache"`
	Providers    ProviderConfig     `yaml:"providers"`
	Profile      ProfileConfig      `yaml:"profile"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		TotalTokenLimit: 8000,
		MinSystemTokens: 200,
		MinQueryTokens:  100,
		Ratios: SectionRatios{
			System:       0.12,
			Query:        0.10,
			Knowledge:    0.48,
			Conversation: 0.20,
			Reserved:     0.10,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			SimilarityWeight: 0.7,
			RecencyWeight:    0.2,
			AuthorityWeight:  0.1,
			RecencyHalfLife:  24 * time.Hour,
		},
		Conversation: ConversationConfig{
			MaxHistoryTokens: 2000,
			KeepRecent:       3,
		},
		Cache: CacheConfig{
			EmbeddingEntries:   4096,
			RetrievalEntries:   512,
			CompositionEntries: 256,
		},
		Providers: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Profile: ProfileConfig{
			MaxHistory: 50,
		},
	}
}

// Validate checks the configuration for malformed ratios and negative limits.
func (c Config) Validate() error {
	if c.TotalTokenLimit <= 0 {
		return &errors.ConfigError{Field: "total_token_limit", Reason: "must be positive"}
	}
	if c.MinSystemTokens < 0 || c.MinQueryTokens < 0 {
		return &errors.ConfigError{Field: "min_tokens", Reason: "minimums must not be negative"}
	}

	r := c.Ratios
	for _, ratio := range []struct {
		name  string
		value float64
	}{
		{"ratios.system", r.System},
		{"ratios.query", r.Query},
		{"ratios.knowledge", r.Knowledge},
		{"ratios.conversation", r.Conversation},
		{"ratios.reserved", r.Reserved},
	} {
		if ratio.value < 0 || ratio.value > 1 {
			return &errors.ConfigError{Field: ratio.name, Reason: "must be within [0, 1]"}
		}
	}
	sum := r.System + r.Query + r.Knowledge + r.Conversation + r.Reserved
	if sum > 1.0+1e-9 {
		return &errors.ConfigError{
			Field:  "ratios",
			Reason: fmt.Sprintf("shares sum to %.3f, must not exceed 1.0", sum),
		}
	}

	w := c.Retrieval
	if w.TopK < 0 {
		return &errors.ConfigError{Field: "retrieval.top_k", Reason: "must not be negative"}
	}
	for _, weight := range []struct {
		name  string
		value float64
	}{
		{"retrieval.similarity_weight", w.SimilarityWeight},
		{"retrieval.recency_weight", w.RecencyWeight},
		{"retrieval.authority_weight", w.AuthorityWeight},
	} {
		if weight.value < 0 {
			return &errors.ConfigError{Field: weight.name, Reason: "must not be negative"}
		}
	}

	if c.Conversation.MaxHistoryTokens < 0 {
		return &errors.ConfigError{Field: "conversation.max_history_tokens", Reason: "must not be negative"}
	}
	if c.Conversation.KeepRecent < 1 {
		return &errors.ConfigError{Field: "conversation.keep_recent", Reason: "must keep at least one exchange"}
	}
	if c.Providers.Timeout < 0 {
		return &errors.ConfigError{Field: "providers.timeout", Reason: "must not be negative"}
	}
	if c.Profile.MaxHistory < 0 {
		return &errors.ConfigError{Field: "profile.max_history", Reason: "must not be negative"}
	}

	return nil
}

// Load reads a YAML configuration file, layering it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &errors.ConfigError{Field: path, Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
