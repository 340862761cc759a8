// Package domain defines the shared data model for the retrieval engine:
// chunks, retrieval results, personas, and interaction records.
package domain

import (
	"strings"
	"time"
)

// Retrieval source identifiers. These are the keys used in SourceScores,
// SourceRanks, and fusion weight maps.
const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
)

// Chunk is the immutable unit of retrievable text. Chunks are produced by
// the ingestion subsystem and treated as read-only once indexed.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MetadataKeyTags is the metadata key holding comma-separated topic tags.
const MetadataKeyTags = "tags"

// MetadataKeyTimestamp is the metadata key holding the chunk's source
// timestamp in RFC3339 format. Chunks without it are treated as undated.
const MetadataKeyTimestamp = "timestamp"

// Tags returns the chunk's topic tags from metadata, or nil if untagged.
func (c *Chunk) Tags() []string {
	raw, ok := c.Metadata[MetadataKeyTags]
	if !ok || raw == "" {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Timestamp returns the chunk's source timestamp and whether one was set.
func (c *Chunk) Timestamp() (time.Time, bool) {
	raw, ok := c.Metadata[MetadataKeyTimestamp]
	if !ok || raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// RankedItem is a single entry in a per-source ranked list. Rank is 1-based.
type RankedItem struct {
	ID    string
	Score float64
	Rank  int
}

// RetrievedResult is a chunk with its fused score and the per-source signals
// that produced it. Created fresh per query, never persisted.
type RetrievedResult struct {
	Chunk        Chunk              `json:"chunk"`
	Score        float64            `json:"score"`
	SourceScores map[string]float64 `json:"source_scores,omitempty"`
	SourceRanks  map[string]int     `json:"source_ranks,omitempty"`
}

// RankSum returns the combined rank across sources, treating absence from a
// source as no contribution. Used as the deterministic tie-breaker.
func (r *RetrievedResult) RankSum() int {
	sum := 0
	for _, rank := range r.SourceRanks {
		sum += rank
	}
	return sum
}

// ResultStatus describes the health of a retrieval response.
type ResultStatus string

const (
	// StatusComplete means every retrieval source contributed.
	StatusComplete ResultStatus = "complete"

	// StatusDegraded means at least one source failed or timed out and the
	// results were fused from the remaining sources.
	StatusDegraded ResultStatus = "degraded"

	// StatusFailed means no source produced results.
	StatusFailed ResultStatus = "failed"
)

// RankedResults is the response of a retrieval call. The presentation layer
// must be able to distinguish complete, degraded, and failed responses, so a
// degraded state is never silently reported as healthy.
type RankedResults struct {
	Results       []RetrievedResult `json:"results"`
	Status        ResultStatus      `json:"status"`
	FailedSources []string          `json:"failed_sources,omitempty"`
	FromCache     bool              `json:"from_cache"`
	InteractionID string            `json:"interaction_id,omitempty"`
	Elapsed       time.Duration     `json:"elapsed"`
}

// TimeRange is a half-open UTC interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the range. A zero Start or End is
// treated as unbounded on that side.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && !t.Before(tr.End) {
		return false
	}
	return true
}

// RetrievalOptions controls a single retrieval call.
type RetrievalOptions struct {
	// UseCache enables the query cache lookup and store.
	UseCache bool

	// UsePersonalization enables interest-profile reranking.
	UsePersonalization bool

	// TimeWindow restricts results to chunks dated within the window.
	// Nil means no restriction.
	TimeWindow *TimeRange

	// SourceWeights overrides fusion weights per source. Empty means the
	// engine picks weights from the query shape.
	SourceWeights map[string]float64
}

// DefaultRetrievalOptions returns the options used when the caller passes
// the zero value.
func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		UseCache:           true,
		UsePersonalization: true,
	}
}

// FeedbackKind is explicit user feedback on a completed interaction.
type FeedbackKind string

const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
)

// Valid reports whether the feedback kind is one of the known values.
func (f FeedbackKind) Valid() bool {
	return f == FeedbackPositive || f == FeedbackNegative
}

// Persona is a named, user-defined context scoping interaction history and
// personalization. One persona is active per session context, passed
// explicitly on each call.
type Persona struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	FocusAreas     []string  `json:"focus_areas,omitempty"`
	ActiveProjects []string  `json:"active_projects,omitempty"`
	ResponseStyle  string    `json:"response_style,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsed       time.Time `json:"last_used"`
	UsageCount     int64     `json:"usage_count"`
}

// Interaction is an append-only record of a completed retrieval. It is
// written once and never mutated except to attach feedback. The interaction
// log is the source of truth for the memory graph, which is a rebuildable
// materialized view.
type Interaction struct {
	ID                string       `json:"id"`
	Persona           string       `json:"persona"`
	Query             string       `json:"query"`
	RetrievedChunkIDs []string     `json:"retrieved_chunk_ids"`
	Timestamp         time.Time    `json:"timestamp"`
	LatencyMs         int64        `json:"latency_ms"`
	Feedback          FeedbackKind `json:"feedback,omitempty"`
}

// TopicScore is a topic with its interest score for a user, as returned by
// graph queries.
type TopicScore struct {
	Topic      string  `json:"topic"`
	Category   string  `json:"category,omitempty"`
	Score      float64 `json:"score"`
	Frequency  int64   `json:"frequency"`
	Confidence float64 `json:"confidence"`
}

// ExportBundle is the privacy-export payload for a persona: everything the
// system remembers about it.
type ExportBundle struct {
	Persona      *Persona      `json:"persona,omitempty"`
	Interactions []Interaction `json:"interactions"`
	Topics       []TopicScore  `json:"topics"`
	ExportedAt   time.Time     `json:"exported_at"`
}
