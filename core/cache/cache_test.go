package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-light/recall/core/domain"
)

func testKey(query, persona string) Key {
	return Key{
		Query:        query,
		Persona:      persona,
		K:            10,
		ModelVersion: "v1",
		Options:      domain.DefaultRetrievalOptions(),
	}
}

func testResults(ids ...string) domain.RankedResults {
	rr := domain.RankedResults{Status: domain.StatusComplete}
	for _, id := range ids {
		rr.Results = append(rr.Results, domain.RetrievedResult{Chunk: domain.Chunk{ID: id}})
	}
	return rr
}

func TestQueryCache_PutThenGet(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	key := testKey("what is raft consensus", "alice")

	c.Put(key, testResults("c1", "c2"))

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, got.Results, 2)
	assert.True(t, got.FromCache)
	assert.Equal(t, domain.StatusComplete, got.Status)
}

func TestQueryCache_MissOnUnknownKey(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	_, ok := c.Get(testKey("never stored", "alice"))
	assert.False(t, ok)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: 30 * time.Millisecond})
	key := testKey("short lived", "alice")
	c.Put(key, testResults("c1"))

	_, ok := c.Get(key)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get(key)
	assert.False(t, ok, "entry must expire after TTL")
}

func TestQueryCache_LRUBound(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 2, TTL: time.Minute})
	k1 := testKey("first", "alice")
	k2 := testKey("second", "alice")
	k3 := testKey("third", "alice")

	c.Put(k1, testResults("a"))
	c.Put(k2, testResults("b"))
	c.Put(k3, testResults("c"))

	_, ok := c.Get(k1)
	assert.False(t, ok, "oldest entry must be evicted at capacity")
	_, ok = c.Get(k3)
	assert.True(t, ok)
}

func TestQueryCache_KeyDistinguishesParameters(t *testing.T) {
	t.Parallel()

	base := testKey("same query", "alice")

	persona := base
	persona.Persona = "bob"
	assert.NotEqual(t, base.String(), persona.String())

	k := base
	k.K = 20
	assert.NotEqual(t, base.String(), k.String())

	model := base
	model.ModelVersion = "v2"
	assert.NotEqual(t, base.String(), model.String())

	weights := base
	weights.Options.SourceWeights = map[string]float64{domain.SourceBM25: 2}
	assert.NotEqual(t, base.String(), weights.String())

	window := base
	window.Options.TimeWindow = &domain.TimeRange{Start: time.Unix(100, 0), End: time.Unix(200, 0)}
	assert.NotEqual(t, base.String(), window.String())
}

func TestQueryCache_KeyNormalizesQueryText(t *testing.T) {
	t.Parallel()

	a := testKey("What  Is   Raft", "alice")
	b := testKey("what is raft", "alice")
	assert.Equal(t, a.String(), b.String())
}

func TestQueryCache_InvalidatePersona(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	alice1 := testKey("query one", "alice")
	alice2 := testKey("query two", "alice")
	bob := testKey("query one", "bob")

	c.Put(alice1, testResults("a"))
	c.Put(alice2, testResults("b"))
	c.Put(bob, testResults("c"))

	removed := c.InvalidatePersona("alice")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(alice1)
	assert.False(t, ok)
	_, ok = c.Get(bob)
	assert.True(t, ok, "other personas must be untouched")
}

func TestQueryCache_InvalidateBadPattern(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	_, err := c.Invalidate("[")
	assert.Error(t, err)
}

func TestQueryCache_Stats(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	key := testKey("stats query", "alice")

	c.Get(key)
	c.Put(key, testResults("a"))
	c.Get(key)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestQueryCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 128, TTL: time.Minute})
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := testKey("query", string(rune('a'+g)))
				c.Put(key, testResults("x"))
				if got, ok := c.Get(key); ok && len(got.Results) != 1 {
					t.Errorf("torn read: %d results", len(got.Results))
					return
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
