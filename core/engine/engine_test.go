package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-light/recall/core/config"
	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/graph"
	"github.com/hyper-light/recall/core/learner"
	"github.com/hyper-light/recall/core/resilience"
	"github.com/hyper-light/recall/core/temporal"
	"github.com/hyper-light/recall/core/vector"
)

// hashEmbedder maps each token to a dimension bucket, giving deterministic
// embeddings where shared vocabulary means high cosine similarity.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, r := range text {
		vec[int(r)%8]++
	}
	return vec, nil
}

// failingStore always fails with a transient error.
type failingStore struct{}

func (failingStore) Query(context.Context, []float32, int, vector.Filter) ([]domain.RankedItem, error) {
	return nil, resilience.NewTransient("query", errors.New("backend down"))
}
func (failingStore) Add(context.Context, []domain.Chunk) error {
	return resilience.NewTransient("add", errors.New("backend down"))
}
func (failingStore) Delete(context.Context, []string) error {
	return resilience.NewTransient("delete", errors.New("backend down"))
}
func (failingStore) Get(context.Context, []string) ([]domain.Chunk, error) {
	return nil, resilience.NewTransient("get", errors.New("backend down"))
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Resilience.BaseDelay = time.Millisecond
	cfg.Resilience.MaxDelay = 5 * time.Millisecond
	cfg.Resilience.RecoveryTimeout = 50 * time.Millisecond
	cfg.Engine.SourceTimeout = time.Second
	// Implicit recency bonuses would make exact score assertions noisy.
	cfg.Temporal.ImplicitWeight = 0
	return cfg
}

func newTestEngine(t *testing.T, store vector.Store, cfg config.Config) *Engine {
	t.Helper()
	dir := t.TempDir()

	log, err := learner.OpenLog(filepath.Join(dir, "interactions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	facts, err := temporal.OpenFactStore(filepath.Join(dir, "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { facts.Close() })

	personas, err := OpenPersonaManager(filepath.Join(dir, "personas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { personas.Close() })

	e := New(cfg, Deps{
		Store:    store,
		Embedder: hashEmbedder{},
		Graph:    graph.NewMemoryGraph(graph.DefaultConfig()),
		Log:      log,
		Facts:    facts,
		Personas: personas,
	})
	t.Cleanup(e.Close)
	return e
}

func engineChunks() []domain.Chunk {
	embed := func(text string) []float32 {
		vec, _ := hashEmbedder{}.Embed(context.Background(), text)
		return vec
	}
	texts := map[string]string{
		"c1": "kubernetes deployment rollback procedures",
		"c2": "kubernetes networking with cilium",
		"c3": "sourdough bread hydration ratios",
	}
	var chunks []domain.Chunk
	for id, text := range texts {
		chunks = append(chunks, domain.Chunk{
			ID:         id,
			DocumentID: "doc-" + id,
			Text:       text,
			Embedding:  embed(text),
		})
	}
	return chunks
}

func TestRetrieveEndToEnd(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()
	require.NoError(t, e.IndexChunks(ctx, engineChunks()))

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, res.Status)
	assert.Empty(t, res.FailedSources)
	assert.False(t, res.FromCache)
	assert.NotEmpty(t, res.InteractionID)
	require.NotEmpty(t, res.Results)

	// The kubernetes chunks outrank the baking one.
	assert.Equal(t, "c1", res.Results[0].Chunk.ID)
	assert.NotEmpty(t, res.Results[0].Chunk.Text)
	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].Score, res.Results[i].Score)
	}
}

func TestRetrieveServesFromCache(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()
	require.NoError(t, e.IndexChunks(ctx, engineChunks()))

	opts := domain.DefaultRetrievalOptions()
	first, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, opts)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := e.Retrieve(ctx, "Kubernetes   DEPLOYMENT", "work", 5, opts)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, len(first.Results), len(second.Results))

	// Indexing new content drops cached rankings.
	require.NoError(t, e.IndexChunks(ctx, []domain.Chunk{{
		ID: "c9", Text: "kubernetes upgrade notes",
		Embedding: func() []float32 { v, _ := hashEmbedder{}.Embed(ctx, "kubernetes upgrade notes"); return v }(),
	}}))
	third, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, opts)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestRetrieveDegradedWhenVectorSourceFails(t *testing.T) {
	e := newTestEngine(t, failingStore{}, testConfig())
	ctx := context.Background()

	// The vector store is down, but the keyword index still works.
	e.kwIndex.IndexChunks(engineChunks())

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDegraded, res.Status)
	assert.Equal(t, []string{domain.SourceVector}, res.FailedSources)
	require.NotEmpty(t, res.Results)
	// Chunk bodies are unavailable without the store; IDs still rank.
	assert.Equal(t, "c1", res.Results[0].Chunk.ID)

	// Degraded responses are not cached.
	again, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.NoError(t, err)
	assert.False(t, again.FromCache)
}

func TestRetrieveBothSourcesFailed(t *testing.T) {
	e := newTestEngine(t, failingStore{}, testConfig())
	e.kwIndex.IndexChunks(engineChunks())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.Error(t, err)

	var both *resilience.BothSourcesFailedError
	require.ErrorAs(t, err, &both)
	assert.Error(t, both.VectorErr)
	assert.Error(t, both.KeywordErr)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.ElementsMatch(t, []string{domain.SourceVector, domain.SourceBM25}, res.FailedSources)
}

func TestRetrieveRejectsInvalidInput(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()

	_, err = e.Retrieve(ctx, "   ", "work", 5, domain.DefaultRetrievalOptions())
	assert.ErrorIs(t, err, resilience.ErrInvalidQuery)

	_, err = e.Retrieve(ctx, "valid query", "work", 0, domain.DefaultRetrievalOptions())
	assert.ErrorIs(t, err, resilience.ErrInvalidQuery)
}

func TestSourceWeightsHeuristic(t *testing.T) {
	e := newTestEngine(t, failingStore{}, testConfig())

	w := e.sourceWeights(`error "connection refused" logs`, domain.RetrievalOptions{})
	assert.Greater(t, w[domain.SourceBM25], w[domain.SourceVector])

	w = e.sourceWeights("kubernetes deployment", domain.RetrievalOptions{})
	assert.Equal(t, w[domain.SourceBM25], w[domain.SourceVector])

	override := map[string]float64{domain.SourceVector: 2.0}
	w = e.sourceWeights(`"quoted"`, domain.RetrievalOptions{SourceWeights: override})
	assert.Equal(t, override, w)
}

func TestFeedbackAndPrivacyOperations(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()
	require.NoError(t, e.IndexChunks(ctx, engineChunks()))
	require.NoError(t, e.Personas().Create(ctx, domain.Persona{Name: "work"}))

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.InteractionID)
	e.Flush()

	require.NoError(t, e.RecordFeedback(ctx, res.InteractionID, domain.FeedbackPositive))

	bundle, err := e.ExportPersonaMemory(ctx, "work")
	require.NoError(t, err)
	require.NotNil(t, bundle.Persona)
	require.Len(t, bundle.Interactions, 1)
	assert.Equal(t, domain.FeedbackPositive, bundle.Interactions[0].Feedback)
	assert.NotEmpty(t, bundle.Topics)

	require.NoError(t, e.ClearPersonaMemory(ctx, "work"))

	bundle, err = e.ExportPersonaMemory(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, bundle.Interactions)
	assert.Empty(t, bundle.Topics)
}

func TestDeleteInteractionReversesLearning(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()
	require.NoError(t, e.IndexChunks(ctx, engineChunks()))

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, domain.DefaultRetrievalOptions())
	require.NoError(t, err)
	e.Flush()

	require.NoError(t, e.DeleteInteraction(ctx, "work", res.InteractionID))

	bundle, err := e.ExportPersonaMemory(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, bundle.Interactions)
	assert.Empty(t, bundle.Topics)
}

func TestRetrieveTimeWindowFiltersResults(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()

	now := time.Now().UTC()
	chunks := engineChunks()
	for i := range chunks {
		age := -time.Hour
		if chunks[i].ID == "c2" {
			age = -90 * 24 * time.Hour
		}
		chunks[i].Metadata = map[string]string{
			domain.MetadataKeyTimestamp: now.Add(age).Format(time.RFC3339),
		}
	}
	require.NoError(t, e.IndexChunks(ctx, chunks))

	opts := domain.DefaultRetrievalOptions()
	opts.TimeWindow = &domain.TimeRange{Start: now.Add(-7 * 24 * time.Hour)}

	res, err := e.Retrieve(ctx, "kubernetes deployment", "work", 5, opts)
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.NotEqual(t, "c2", r.Chunk.ID)
	}
	require.NotEmpty(t, res.Results)
}

func TestFactRoundTripThroughEngine(t *testing.T) {
	store, err := vector.OpenSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()

	lineage, err := e.SaveFact(ctx, temporal.Fact{
		Persona: "work", FactType: "project", Content: "migrating to postgres",
		ValidFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, lineage)

	facts, err := e.FactsAsOf(ctx, "work", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "migrating to postgres", facts[0].Content)
}
