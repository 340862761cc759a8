// Package config provides the validated configuration for the retrieval
// engine. Every tunable threshold has a named field and an explicit default;
// there are no implicit defaults hidden in code paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FusionConfig configures rank fusion.
type FusionConfig struct {
	// K is the RRF smoothing constant. Lower values favor top-ranked items
	// more aggressively.
	K int `yaml:"k"`
}

// ResilienceConfig configures the circuit breaker and retry wrapper around
// the vector store backend.
type ResilienceConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before allowing
	// a half-open probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// MaxAttempts bounds the retry loop for transient errors.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the initial backoff delay; each attempt doubles it.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// JitterPercent is the backoff jitter fraction (0.1 = 10%).
	JitterPercent float64 `yaml:"jitter_percent"`

	// AttemptTimeout bounds each individual backend attempt. It must be
	// shorter than the engine's source timeout, or a hung backend would
	// always look like caller cancellation and never trip the breaker.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// KeywordConfig configures BM25 scoring.
type KeywordConfig struct {
	// K1 controls term-frequency saturation.
	K1 float64 `yaml:"k1"`

	// B controls document-length normalization.
	B float64 `yaml:"b"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	// MaxEntries bounds the cache by entry count (LRU eviction).
	MaxEntries int `yaml:"max_entries"`

	// TTL is the per-entry time to live. Whichever of TTL or the LRU
	// bound triggers first wins.
	TTL time.Duration `yaml:"ttl"`
}

// GraphConfig configures the memory graph reinforcement rule.
type GraphConfig struct {
	// InitialInterest is the interest level assigned to a new topic.
	InitialInterest float64 `yaml:"initial_interest"`

	// InitialConfidence is the confidence of a freshly created interest
	// edge.
	InitialConfidence float64 `yaml:"initial_confidence"`

	// ConfidenceStep is added to an edge's confidence on each repeat
	// interest, clamped to 1.0.
	ConfidenceStep float64 `yaml:"confidence_step"`

	// ConfidenceHalfLifeDays controls the read-time decay of confidence
	// for idle topics. Stored values are never decayed in place so that
	// interaction replay stays idempotent.
	ConfidenceHalfLifeDays float64 `yaml:"confidence_half_life_days"`
}

// LearnerConfig configures the behavior learner.
type LearnerConfig struct {
	// TopicTopN is the number of topics extracted per query.
	TopicTopN int `yaml:"topic_top_n"`

	// QueueSize bounds the async graph-update queue.
	QueueSize int `yaml:"queue_size"`

	// WriteRetries bounds retry of failed graph writes.
	WriteRetries int `yaml:"write_retries"`
}

// PersonalizeConfig configures personalization weights.
type PersonalizeConfig struct {
	// TopicWeight scales the topic-interest boost.
	TopicWeight float64 `yaml:"topic_weight"`

	// FamiliarityWeight scales the document-familiarity boost.
	FamiliarityWeight float64 `yaml:"familiarity_weight"`
}

// TemporalConfig configures recency scoring.
type TemporalConfig struct {
	// HalfLifeDays is the recency half-life: a chunk this many days old
	// scores half as recent as a fresh one.
	HalfLifeDays float64 `yaml:"half_life_days"`

	// ImplicitWeight is the additive recency weight applied to queries
	// with no explicit time expression.
	ImplicitWeight float64 `yaml:"implicit_weight"`
}

// EngineConfig configures the retrieval orchestration.
type EngineConfig struct {
	// SourceTimeout bounds each retrieval source. A slow source cannot
	// block the other's result from being used.
	SourceTimeout time.Duration `yaml:"source_timeout"`

	// FetchK is how many candidates each source fetches before fusion.
	FetchK int `yaml:"fetch_k"`

	// EmbeddingModelVersion participates in cache keys so that a model
	// change invalidates cached rankings.
	EmbeddingModelVersion string `yaml:"embedding_model_version"`
}

// Config is the root configuration.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Keyword     KeywordConfig     `yaml:"keyword"`
	Cache       CacheConfig       `yaml:"cache"`
	Graph       GraphConfig       `yaml:"graph"`
	Learner     LearnerConfig     `yaml:"learner"`
	Personalize PersonalizeConfig `yaml:"personalize"`
	Temporal    TemporalConfig    `yaml:"temporal"`
	Engine      EngineConfig      `yaml:"engine"`
}

// DefaultConfig returns the documented defaults for every threshold.
func DefaultConfig() Config {
	return Config{
		DataDir: "recall-data",
		Fusion:  FusionConfig{K: 60},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			MaxAttempts:      3,
			BaseDelay:        1 * time.Second,
			MaxDelay:         30 * time.Second,
			JitterPercent:    0.1,
			AttemptTimeout:   1 * time.Second,
		},
		Keyword: KeywordConfig{K1: 1.5, B: 0.75},
		Cache:   CacheConfig{MaxEntries: 4096, TTL: time.Hour},
		Graph: GraphConfig{
			InitialInterest:        0.5,
			InitialConfidence:      0.5,
			ConfidenceStep:         0.05,
			ConfidenceHalfLifeDays: 90,
		},
		Learner: LearnerConfig{
			TopicTopN:    5,
			QueueSize:    256,
			WriteRetries: 3,
		},
		Personalize: PersonalizeConfig{
			TopicWeight:       0.3,
			FamiliarityWeight: 0.2,
		},
		Temporal: TemporalConfig{
			HalfLifeDays:   30,
			ImplicitWeight: 0.1,
		},
		Engine: EngineConfig{
			SourceTimeout:         2 * time.Second,
			FetchK:                50,
			EmbeddingModelVersion: "v1",
		},
	}
}

// Load reads a YAML config file and merges it over the defaults. A missing
// file is not an error: defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every threshold against its allowed range.
func (c Config) Validate() error {
	if c.Fusion.K <= 0 {
		return fmt.Errorf("config: fusion.k must be positive, got %d", c.Fusion.K)
	}
	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("config: resilience.failure_threshold must be at least 1, got %d", c.Resilience.FailureThreshold)
	}
	if c.Resilience.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: resilience.recovery_timeout must be positive, got %s", c.Resilience.RecoveryTimeout)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("config: resilience.max_attempts must be at least 1, got %d", c.Resilience.MaxAttempts)
	}
	if c.Resilience.BaseDelay <= 0 {
		return fmt.Errorf("config: resilience.base_delay must be positive, got %s", c.Resilience.BaseDelay)
	}
	if c.Resilience.JitterPercent < 0 || c.Resilience.JitterPercent > 1 {
		return fmt.Errorf("config: resilience.jitter_percent must be in [0,1], got %v", c.Resilience.JitterPercent)
	}
	if c.Resilience.AttemptTimeout < 0 {
		return fmt.Errorf("config: resilience.attempt_timeout must not be negative, got %s", c.Resilience.AttemptTimeout)
	}
	if c.Keyword.K1 <= 0 {
		return fmt.Errorf("config: keyword.k1 must be positive, got %v", c.Keyword.K1)
	}
	if c.Keyword.B < 0 || c.Keyword.B > 1 {
		return fmt.Errorf("config: keyword.b must be in [0,1], got %v", c.Keyword.B)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("config: cache.max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if err := c.validateGraph(); err != nil {
		return err
	}
	if c.Learner.TopicTopN < 1 {
		return fmt.Errorf("config: learner.topic_top_n must be at least 1, got %d", c.Learner.TopicTopN)
	}
	if c.Learner.QueueSize < 1 {
		return fmt.Errorf("config: learner.queue_size must be at least 1, got %d", c.Learner.QueueSize)
	}
	if c.Personalize.TopicWeight < 0 || c.Personalize.FamiliarityWeight < 0 {
		return fmt.Errorf("config: personalize weights must be non-negative")
	}
	if c.Temporal.HalfLifeDays <= 0 {
		return fmt.Errorf("config: temporal.half_life_days must be positive, got %v", c.Temporal.HalfLifeDays)
	}
	if c.Engine.SourceTimeout <= 0 {
		return fmt.Errorf("config: engine.source_timeout must be positive, got %s", c.Engine.SourceTimeout)
	}
	if c.Engine.FetchK < 1 {
		return fmt.Errorf("config: engine.fetch_k must be at least 1, got %d", c.Engine.FetchK)
	}
	return nil
}

func (c Config) validateGraph() error {
	if c.Graph.InitialInterest < 0 || c.Graph.InitialInterest > 1 {
		return fmt.Errorf("config: graph.initial_interest must be in [0,1], got %v", c.Graph.InitialInterest)
	}
	if c.Graph.InitialConfidence < 0 || c.Graph.InitialConfidence > 1 {
		return fmt.Errorf("config: graph.initial_confidence must be in [0,1], got %v", c.Graph.InitialConfidence)
	}
	if c.Graph.ConfidenceStep <= 0 || c.Graph.ConfidenceStep > 1 {
		return fmt.Errorf("config: graph.confidence_step must be in (0,1], got %v", c.Graph.ConfidenceStep)
	}
	if c.Graph.ConfidenceHalfLifeDays <= 0 {
		return fmt.Errorf("config: graph.confidence_half_life_days must be positive, got %v", c.Graph.ConfidenceHalfLifeDays)
	}
	return nil
}
