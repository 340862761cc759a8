// Package graph implements the memory graph: topics, interest edges, and
// document-access edges derived from the interaction log. The graph is a
// materialized, rebuildable view; the interaction log remains the source of
// truth.
package graph

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hyper-light/recall/core/domain"
)

var (
	// ErrTopicNotFound indicates an unknown topic name.
	ErrTopicNotFound = errors.New("topic not found")
)

// Config holds the reinforcement and decay parameters.
type Config struct {
	// InitialInterest is the interest level assigned to a new topic.
	InitialInterest float64

	// InitialConfidence is the confidence of a new interest edge.
	InitialConfidence float64

	// ConfidenceStep is added on each repeat interest, clamped to 1.0.
	// Frequent, confirmed interests approach but never reach certainty,
	// bounding the influence any single signal can have.
	ConfidenceStep float64

	// ConfidenceHalfLifeDays controls read-time decay for idle topics.
	// Stored values are never decayed in place, so interaction replay
	// stays idempotent.
	ConfidenceHalfLifeDays float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialInterest:        0.5,
		InitialConfidence:      0.5,
		ConfidenceStep:         0.05,
		ConfidenceHalfLifeDays: 90,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialInterest <= 0 {
		c.InitialInterest = d.InitialInterest
	}
	if c.InitialConfidence <= 0 {
		c.InitialConfidence = d.InitialConfidence
	}
	if c.ConfidenceStep <= 0 {
		c.ConfidenceStep = d.ConfidenceStep
	}
	if c.ConfidenceHalfLifeDays <= 0 {
		c.ConfidenceHalfLifeDays = d.ConfidenceHalfLifeDays
	}
	return c
}

// decayedConfidence applies exponential half-life decay to a stored
// confidence based on how long the edge has been idle. This is the decay
// policy for long inactivity: read-time, deterministic, and side-effect
// free.
func decayedConfidence(confidence float64, lastQuery, now time.Time, halfLifeDays float64) float64 {
	if lastQuery.IsZero() || !now.After(lastQuery) {
		return confidence
	}
	idleDays := now.Sub(lastQuery).Hours() / 24.0
	return confidence * math.Exp2(-idleDays/halfLifeDays)
}

// clampConfidence bounds confidence to [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// TopicNode is a topic tracked by the graph.
type TopicNode struct {
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	InterestLevel float64   `json:"interest_level"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Graph is the memory graph contract. Reads may observe slightly stale data
// relative to concurrent writes, but never a half-applied upsert: each
// Record call is one transaction against the store.
//
// Idempotence: Record calls carry the interaction ID; replaying the same
// interaction must not double-count, so implementations dedup at the
// edge-update boundary.
type Graph interface {
	// UpsertTopic creates the topic or touches its last-seen time.
	UpsertTopic(ctx context.Context, name string, ts time.Time) error

	// RecordInterest reinforces the user's interest in a topic.
	RecordInterest(ctx context.Context, user, topic string, ts time.Time, interactionID string) error

	// RecordAccess records that the user retrieved a document.
	RecordAccess(ctx context.Context, user, docID string, ts time.Time, durationMs int64, interactionID string) error

	// GetTopTopics returns the user's strongest interests, scored by
	// decayed confidence, best first.
	GetTopTopics(ctx context.Context, user string, limit int) ([]domain.TopicScore, error)

	// GetRelatedTopics returns topics co-occurring with the given topic
	// across interactions, strongest association first.
	GetRelatedTopics(ctx context.Context, topic string, limit int) ([]domain.TopicScore, error)

	// GetTopic returns a topic node, or ErrTopicNotFound.
	GetTopic(ctx context.Context, name string) (*TopicNode, error)

	// AccessCounts returns per-document access counts for the user,
	// restricted to docIDs. Unknown documents are omitted.
	AccessCounts(ctx context.Context, user string, docIDs []string) (map[string]int64, error)

	// PruneInteraction reverses the contributions of one interaction,
	// leaving no orphaned edges behind.
	PruneInteraction(ctx context.Context, interactionID string) error

	// ClearUser removes every edge and event for the user.
	ClearUser(ctx context.Context, user string) error

	// Close releases store resources.
	Close() error
}
