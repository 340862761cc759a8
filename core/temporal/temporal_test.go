package temporal

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-light/recall/core/domain"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseRelativeOffsets(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
	}{
		{"changes -30d", 30 * 24 * time.Hour},
		{"-2w deploy notes", 2 * 7 * 24 * time.Hour},
		{"-6m roadmap", 6 * 30 * 24 * time.Hour},
		{"incidents -1y", 365 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got := ParseTimeExpression(tc.expr, testNow)
			require.True(t, got.Explicit)
			assert.True(t, got.Range.End.Equal(testNow))
			assert.True(t, got.Range.Start.Equal(testNow.Add(-tc.want)))
		})
	}
}

func TestParseAbsoluteDate(t *testing.T) {
	got := ParseTimeExpression("meeting notes from 2026-01-15", testNow)
	require.True(t, got.Explicit)
	assert.True(t, got.Range.Start.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.Range.End.Equal(time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)))
}

func TestParseNamedPhrases(t *testing.T) {
	got := ParseTimeExpression("what did I read yesterday", testNow)
	require.True(t, got.Explicit)
	assert.True(t, got.Range.Start.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.Range.End.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))

	got = ParseTimeExpression("last week standup notes", testNow)
	require.True(t, got.Explicit)
	assert.True(t, got.Range.Start.Equal(testNow.Add(-7*24*time.Hour)))

	got = ParseTimeExpression("recent incidents", testNow)
	assert.True(t, got.Explicit)
}

func TestParseNoExpression(t *testing.T) {
	got := ParseTimeExpression("kubernetes deployment rollback", testNow)
	assert.False(t, got.Explicit)
	assert.True(t, got.Range.Start.IsZero())
	assert.True(t, got.Range.End.IsZero())
}

func timedResult(id string, score float64, ts time.Time) domain.RetrievedResult {
	meta := map[string]string{}
	if !ts.IsZero() {
		meta[domain.MetadataKeyTimestamp] = ts.Format(time.RFC3339)
	}
	return domain.RetrievedResult{
		Chunk: domain.Chunk{ID: id, Metadata: meta},
		Score: score,
	}
}

func TestApplyFilter(t *testing.T) {
	r := NewReasoner(DefaultConfig())
	tc := TimeContext{Explicit: true, Range: domain.TimeRange{
		Start: testNow.Add(-7 * 24 * time.Hour),
		End:   testNow,
	}}

	results := []domain.RetrievedResult{
		timedResult("fresh", 0.5, testNow.Add(-24*time.Hour)),
		timedResult("stale", 0.9, testNow.Add(-60*24*time.Hour)),
		timedResult("undated", 0.4, time.Time{}),
	}

	filtered := r.ApplyFilter(results, tc)
	require.Len(t, filtered, 2)
	assert.Equal(t, "fresh", filtered[0].Chunk.ID)
	assert.Equal(t, "undated", filtered[1].Chunk.ID)

	// Implicit contexts never filter.
	assert.Len(t, r.ApplyFilter(results, TimeContext{}), 3)
}

func TestScoreRecency(t *testing.T) {
	r := NewReasoner(Config{HalfLifeDays: 30})

	fresh := r.ScoreRecency(timedResult("a", 1, testNow), testNow)
	assert.InDelta(t, 1.0, fresh, 1e-9)

	aged := r.ScoreRecency(timedResult("b", 1, testNow.Add(-30*24*time.Hour)), testNow)
	assert.InDelta(t, math.Exp(-1), aged, 1e-9)

	undated := r.ScoreRecency(timedResult("c", 1, time.Time{}), testNow)
	assert.InDelta(t, 0.5, undated, 1e-9)

	future := r.ScoreRecency(timedResult("d", 1, testNow.Add(24*time.Hour)), testNow)
	assert.InDelta(t, 1.0, future, 1e-9)
}

func TestAdjustExplicitVsImplicit(t *testing.T) {
	r := NewReasoner(Config{HalfLifeDays: 30, ImplicitWeight: 0.1})
	r.now = func() time.Time { return testNow }

	results := []domain.RetrievedResult{
		timedResult("old-strong", 0.8, testNow.Add(-90*24*time.Hour)),
		timedResult("new-weak", 0.5, testNow),
	}

	// Explicit temporal query: recency multiplies, the fresh chunk wins.
	explicit := r.Adjust(results, TimeContext{Explicit: true})
	assert.Equal(t, "new-weak", explicit[0].Chunk.ID)
	assert.InDelta(t, 0.8*math.Exp(-3), explicit[1].Score, 1e-9)

	// Implicit query: a small additive bonus cannot overturn relevance.
	implicit := r.Adjust(results, TimeContext{})
	assert.Equal(t, "old-strong", implicit[0].Chunk.ID)
	assert.InDelta(t, 0.5+0.1, implicit[1].Score, 1e-9)
}

func openTestFacts(t *testing.T) *FactStore {
	t.Helper()
	s, err := OpenFactStore(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFactsAsOfFiltersByValidity(t *testing.T) {
	s := openTestFacts(t)
	ctx := context.Background()

	f1End := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	lineage, err := s.SaveFact(ctx, Fact{
		Persona:   "work",
		FactType:  "role",
		Content:   "working on the billing service",
		ValidFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:   &f1End,
	})
	require.NoError(t, err)

	_, err = s.SaveFact(ctx, Fact{
		LineageID: lineage,
		Persona:   "work",
		FactType:  "role",
		Content:   "working on the search service",
		ValidFrom: f1End,
	})
	require.NoError(t, err)

	// Anchored inside the first validity window: only the old version.
	facts, err := s.FactsAsOf(ctx, "work", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "working on the billing service", facts[0].Content)

	// Anchored after the switch: only the current version.
	facts, err = s.FactsAsOf(ctx, "work", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "working on the search service", facts[0].Content)
	assert.True(t, facts[0].Current())
}

func TestSaveFactKeepsOneOpenVersion(t *testing.T) {
	s := openTestFacts(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	lineage, err := s.SaveFact(ctx, Fact{
		Persona: "work", FactType: "project", Content: "v1", ValidFrom: base,
	})
	require.NoError(t, err)

	for i, content := range []string{"v2", "v3"} {
		_, err := s.SaveFact(ctx, Fact{
			LineageID: lineage, Persona: "work", FactType: "project",
			Content: content, ValidFrom: base.AddDate(0, i+1, 0),
		})
		require.NoError(t, err)
	}

	history, err := s.History(ctx, lineage)
	require.NoError(t, err)
	require.Len(t, history, 3)

	open := 0
	for _, f := range history {
		if f.Current() {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, "v3", history[2].Content)
	assert.True(t, history[2].Current())

	// Closed versions chain: each validTo equals the successor's validFrom.
	require.NotNil(t, history[0].ValidTo)
	assert.True(t, history[0].ValidTo.Equal(history[1].ValidFrom))
}

func TestFactStorePersonaIsolation(t *testing.T) {
	s := openTestFacts(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.SaveFact(ctx, Fact{Persona: "work", FactType: "note", Content: "w", ValidFrom: base})
	require.NoError(t, err)
	_, err = s.SaveFact(ctx, Fact{Persona: "personal", FactType: "note", Content: "p", ValidFrom: base})
	require.NoError(t, err)

	require.NoError(t, s.DeletePersona(ctx, "work"))

	facts, err := s.CurrentFacts(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, facts)

	facts, err = s.CurrentFacts(ctx, "personal")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "p", facts[0].Content)
}

func TestHistoryUnknownLineage(t *testing.T) {
	s := openTestFacts(t)
	_, err := s.History(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFactNotFound)
}
