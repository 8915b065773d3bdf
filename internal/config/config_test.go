package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"weaver/internal/errors"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero total", func(c *Config) { c.TotalTokenLimit = 0 }},
		{"negative min", func(c *Config) { c.MinSystemTokens = -1 }},
		{"ratio above one", func(c *Config) { c.Ratios.Knowledge = 1.5 }},
		{"shares exceed one", func(c *Config) { c.Ratios.Knowledge = 0.9 }},
		{"negative top-k", func(c *Config) { c.Retrieval.TopK = -1 }},
		{"negative weight", func(c *Config) { c.Retrieval.RecencyWeight = -0.2 }},
		{"keep zero recent", func(c *Config) { c.Conversation.KeepRecent = 0 }},
		{"negative timeout", func(c *Config) { c.Providers.Timeout = -time.Second }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation failure", tc.name)
			continue
		}
		if !errors.IsConfig(err) {
			t.Errorf("%s: expected ConfigError, got %T", tc.name, err)
		}
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weaver.yaml")
	contents := []byte("total_token_limit: 16000\nretrieval:\n  top_k: 8\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TotalTokenLimit != 16000 {
		t.Fatalf("TotalTokenLimit = %d, want 16000", cfg.TotalTokenLimit)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Fatalf("TopK = %d, want 8", cfg.Retrieval.TopK)
	}
	// Untouched fields keep their defaults.
	if cfg.Conversation.KeepRecent != 3 {
		t.Fatalf("KeepRecent = %d, want default 3", cfg.Conversation.KeepRecent)
	}
	if cfg.Ratios.Knowledge != 0.48 {
		t.Fatalf("Knowledge ratio = %v, want default 0.48", cfg.Ratios.Knowledge)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weaver.yaml")
	if err := os.WriteFile(path, []byte("total_token_limit: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.IsConfig(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
