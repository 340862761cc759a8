package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Fusion.K != 60 {
		t.Errorf("fusion.k = %d, want 60", cfg.Fusion.K)
	}
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("failure_threshold = %d, want 5", cfg.Resilience.FailureThreshold)
	}
	if cfg.Keyword.K1 != 1.5 || cfg.Keyword.B != 0.75 {
		t.Errorf("keyword = %+v, want k1=1.5 b=0.75", cfg.Keyword)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	body := []byte("fusion:\n  k: 40\ncache:\n  ttl: 10m\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fusion.K != 40 {
		t.Errorf("fusion.k = %d, want 40", cfg.Fusion.K)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("cache.ttl = %s, want 10m", cfg.Cache.TTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Graph.ConfidenceStep != 0.05 {
		t.Errorf("graph.confidence_step = %v, want 0.05", cfg.Graph.ConfidenceStep)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	if err := os.WriteFile(path, []byte("keyword:\n  b: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for keyword.b > 1")
	}
}

func TestValidateCatchesBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fusion k", func(c *Config) { c.Fusion.K = 0 }},
		{"zero failure threshold", func(c *Config) { c.Resilience.FailureThreshold = 0 }},
		{"negative recovery timeout", func(c *Config) { c.Resilience.RecoveryTimeout = -time.Second }},
		{"zero max attempts", func(c *Config) { c.Resilience.MaxAttempts = 0 }},
		{"jitter above one", func(c *Config) { c.Resilience.JitterPercent = 1.5 }},
		{"negative attempt timeout", func(c *Config) { c.Resilience.AttemptTimeout = -time.Second }},
		{"negative bm25 b", func(c *Config) { c.Keyword.B = -0.1 }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"confidence step zero", func(c *Config) { c.Graph.ConfidenceStep = 0 }},
		{"initial confidence above one", func(c *Config) { c.Graph.InitialConfidence = 1.1 }},
		{"zero topic top n", func(c *Config) { c.Learner.TopicTopN = 0 }},
		{"negative topic weight", func(c *Config) { c.Personalize.TopicWeight = -1 }},
		{"zero temporal half life", func(c *Config) { c.Temporal.HalfLifeDays = 0 }},
		{"zero fetch k", func(c *Config) { c.Engine.FetchK = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
