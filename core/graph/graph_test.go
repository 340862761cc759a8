package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eachGraph runs fn against both Graph implementations so semantics cannot
// drift between them.
func eachGraph(t *testing.T, fn func(t *testing.T, g Graph)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		g := NewMemoryGraph(DefaultConfig())
		defer g.Close()
		fn(t, g)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "graph.db")
		g, err := OpenSQLite(path, DefaultConfig())
		require.NoError(t, err)
		defer g.Close()
		fn(t, g)
	})
}

func setClock(g Graph, now func() time.Time) {
	switch impl := g.(type) {
	case *MemoryGraph:
		impl.now = now
	case *SQLiteGraph:
		impl.now = now
	}
}

func TestRecordInterestReinforcement(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "kubernetes", ts, "i1"))

		topics, err := g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, "kubernetes", topics[0].Topic)
		assert.Equal(t, int64(1), topics[0].Frequency)
		assert.InDelta(t, 0.5, topics[0].Confidence, 1e-9)

		require.NoError(t, g.RecordInterest(ctx, "alice", "kubernetes", ts.Add(time.Hour), "i2"))

		topics, err = g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, int64(2), topics[0].Frequency)
		assert.InDelta(t, 0.55, topics[0].Confidence, 1e-9)
	})
}

func TestConfidenceNeverExceedsOne(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		for i := 0; i < 30; i++ {
			id := fmt.Sprintf("i%d", i)
			require.NoError(t, g.RecordInterest(ctx, "alice", "golang", ts.Add(time.Duration(i)*time.Minute), id))
		}

		topics, err := g.GetTopTopics(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, int64(30), topics[0].Frequency)
		assert.LessOrEqual(t, topics[0].Confidence, 1.0)
		assert.InDelta(t, 1.0, topics[0].Confidence, 1e-9)
	})
}

func TestRecordInterestIdempotentReplay(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			require.NoError(t, g.RecordInterest(ctx, "alice", "postgres", ts, "same-interaction"))
		}

		topics, err := g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, int64(1), topics[0].Frequency)
		assert.InDelta(t, 0.5, topics[0].Confidence, 1e-9)
	})
}

func TestRecordInterestSharedInteractionAcrossUsers(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		// The dedup marker is keyed per user: two personas applying the
		// same interaction ID and topic must not collide.
		require.NoError(t, g.RecordInterest(ctx, "alice", "golang", ts, "i-shared"))
		require.NoError(t, g.RecordInterest(ctx, "bob", "golang", ts, "i-shared"))

		for _, user := range []string{"alice", "bob"} {
			topics, err := g.GetTopTopics(ctx, user, 10)
			require.NoError(t, err)
			require.Len(t, topics, 1, "user %s", user)
			assert.Equal(t, int64(1), topics[0].Frequency)
		}
	})
}

func TestRecordAccessIdempotentReplay(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordAccess(ctx, "alice", "doc-1", ts, 1200, "i1"))
		require.NoError(t, g.RecordAccess(ctx, "alice", "doc-1", ts, 1200, "i1"))
		require.NoError(t, g.RecordAccess(ctx, "alice", "doc-1", ts.Add(time.Hour), 800, "i2"))

		counts, err := g.AccessCounts(ctx, "alice", []string{"doc-1", "doc-2"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"doc-1": 2}, counts)
	})
}

func TestGetTopTopicsOrderingAndLimit(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		// kubernetes reinforced three times, golang twice, sqlite once.
		id := 0
		record := func(topic string, n int) {
			for i := 0; i < n; i++ {
				id++
				require.NoError(t, g.RecordInterest(ctx, "alice", topic, ts, fmt.Sprintf("i%d", id)))
			}
		}
		record("kubernetes", 3)
		record("golang", 2)
		record("sqlite", 1)

		topics, err := g.GetTopTopics(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, topics, 2)
		assert.Equal(t, "kubernetes", topics[0].Topic)
		assert.Equal(t, "golang", topics[1].Topic)

		// Other users never leak in.
		topics, err = g.GetTopTopics(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Empty(t, topics)

		// Non-positive limit returns nothing.
		topics, err = g.GetTopTopics(ctx, "alice", 0)
		require.NoError(t, err)
		assert.Empty(t, topics)
	})
}

func TestGetTopTopicsAppliesDecay(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "rust", ts, "i1"))

		// One half-life of idleness halves the score; the stored
		// confidence is untouched.
		setClock(g, func() time.Time { return ts.Add(90 * 24 * time.Hour) })

		topics, err := g.GetTopTopics(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.InDelta(t, 0.25, topics[0].Score, 1e-6)
		assert.InDelta(t, 0.5, topics[0].Confidence, 1e-9)
	})
}

func TestGetRelatedTopicsCoOccurrence(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		// kubernetes co-occurs with docker twice and with helm once.
		require.NoError(t, g.RecordInterest(ctx, "alice", "kubernetes", ts, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "docker", ts, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "kubernetes", ts, "i2"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "docker", ts, "i2"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "helm", ts, "i2"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "terraform", ts, "i3"))

		related, err := g.GetRelatedTopics(ctx, "kubernetes", 10)
		require.NoError(t, err)
		require.Len(t, related, 2)
		assert.Equal(t, "docker", related[0].Topic)
		assert.InDelta(t, 1.0, related[0].Score, 1e-9)
		assert.Equal(t, "helm", related[1].Topic)
		assert.InDelta(t, 0.5, related[1].Score, 1e-9)
	})
}

func TestGetTopic(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.UpsertTopic(ctx, "observability", ts))

		node, err := g.GetTopic(ctx, "observability")
		require.NoError(t, err)
		assert.Equal(t, "observability", node.Name)
		assert.InDelta(t, 0.5, node.InterestLevel, 1e-9)

		_, err = g.GetTopic(ctx, "unknown")
		assert.ErrorIs(t, err, ErrTopicNotFound)
	})
}

func TestPruneInteractionReversesContributions(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "kafka", ts, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "kafka", ts.Add(time.Hour), "i2"))
		require.NoError(t, g.RecordAccess(ctx, "alice", "doc-1", ts, 500, "i2"))

		require.NoError(t, g.PruneInteraction(ctx, "i2"))

		topics, err := g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, int64(1), topics[0].Frequency)
		assert.InDelta(t, 0.5, topics[0].Confidence, 1e-9)

		counts, err := g.AccessCounts(ctx, "alice", []string{"doc-1"})
		require.NoError(t, err)
		assert.Empty(t, counts)
	})
}

func TestPruneRemovesEdgeAtZeroFrequency(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "nats", ts, "i1"))
		require.NoError(t, g.PruneInteraction(ctx, "i1"))

		topics, err := g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		assert.Empty(t, topics)

		// Pruned interaction no longer contributes co-occurrence.
		related, err := g.GetRelatedTopics(ctx, "nats", 10)
		require.NoError(t, err)
		assert.Empty(t, related)

		// Replaying the pruned interaction applies cleanly again.
		require.NoError(t, g.RecordInterest(ctx, "alice", "nats", ts, "i1"))
		topics, err = g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, int64(1), topics[0].Frequency)
	})
}

func TestClearUser(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "vectors", ts, "i1"))
		require.NoError(t, g.RecordAccess(ctx, "alice", "doc-1", ts, 100, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "bob", "vectors", ts, "i2"))

		require.NoError(t, g.ClearUser(ctx, "alice"))

		topics, err := g.GetTopTopics(ctx, "alice", 10)
		require.NoError(t, err)
		assert.Empty(t, topics)

		counts, err := g.AccessCounts(ctx, "alice", []string{"doc-1"})
		require.NoError(t, err)
		assert.Empty(t, counts)

		topics, err = g.GetTopTopics(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Len(t, topics, 1)
	})
}

func TestClearUserRemovesCoOccurrences(t *testing.T) {
	eachGraph(t, func(t *testing.T, g Graph) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, g.RecordInterest(ctx, "alice", "golang", ts, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "alice", "rust", ts, "i1"))
		require.NoError(t, g.RecordInterest(ctx, "bob", "golang", ts, "i2"))
		require.NoError(t, g.RecordInterest(ctx, "bob", "zig", ts, "i2"))

		require.NoError(t, g.ClearUser(ctx, "alice"))

		// Alice's co-occurrence events must not survive her deletion.
		related, err := g.GetRelatedTopics(ctx, "golang", 10)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, "zig", related[0].Topic)
	})
}

func TestDecayedConfidence(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got := decayedConfidence(0.8, base, base, 90)
	if got != 0.8 {
		t.Fatalf("no idle time should not decay: got %v", got)
	}

	got = decayedConfidence(0.8, base, base.Add(90*24*time.Hour), 90)
	if diff := got - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("one half-life should halve confidence: got %v", got)
	}

	got = decayedConfidence(0.8, time.Time{}, base, 90)
	if got != 0.8 {
		t.Fatalf("zero last-query should not decay: got %v", got)
	}
}
