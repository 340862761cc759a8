// Package engine orchestrates hybrid retrieval: cache lookup, parallel
// vector and keyword fetch through the resilient store client, rank fusion,
// personalization, temporal adjustment, and interaction recording.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyper-light/recall/core/cache"
	"github.com/hyper-light/recall/core/config"
	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/fusion"
	"github.com/hyper-light/recall/core/graph"
	"github.com/hyper-light/recall/core/keyword"
	"github.com/hyper-light/recall/core/learner"
	"github.com/hyper-light/recall/core/personalize"
	"github.com/hyper-light/recall/core/resilience"
	"github.com/hyper-light/recall/core/temporal"
	"github.com/hyper-light/recall/core/vector"
)

// Engine is the hybrid retrieval engine. All state it touches is local to
// the machine; queries and interaction history never leave the process.
type Engine struct {
	config config.Config
	logger *slog.Logger

	embedder vector.Embedder
	store    *resilience.StoreClient
	rawStore vector.Store
	kwIndex  *keyword.Index
	scorer   *fusion.Scorer
	cache    *cache.QueryCache
	ranker   *personalize.Ranker
	reasoner *temporal.Reasoner
	learner  *learner.Learner
	facts    *temporal.FactStore
	personas *PersonaManager
}

// Deps are the externally constructed collaborators the engine composes.
type Deps struct {
	// Store is the raw vector backend; the engine wraps it in the
	// resilient client.
	Store vector.Store

	// Embedder produces query embeddings. Wrap it in a CachedEmbedder to
	// avoid re-embedding repeat queries.
	Embedder vector.Embedder

	Graph    graph.Graph
	Log      *learner.Log
	Facts    *temporal.FactStore
	Personas *PersonaManager

	// Logger is optional; nil selects slog's default.
	Logger *slog.Logger
}

// New composes the retrieval engine from cfg and deps.
func New(cfg config.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := resilience.NewStoreClient(deps.Store,
		resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		},
		resilience.RetryPolicy{
			MaxAttempts:    cfg.Resilience.MaxAttempts,
			BaseDelay:      cfg.Resilience.BaseDelay,
			MaxDelay:       cfg.Resilience.MaxDelay,
			JitterPercent:  cfg.Resilience.JitterPercent,
			AttemptTimeout: cfg.Resilience.AttemptTimeout,
		},
		logger)

	lrn := learner.New(deps.Log, deps.Graph, nil, learner.Config{
		TopicTopN:    cfg.Learner.TopicTopN,
		QueueSize:    cfg.Learner.QueueSize,
		WriteRetries: cfg.Learner.WriteRetries,
	}, logger)

	return &Engine{
		config:   cfg,
		logger:   logger,
		embedder: deps.Embedder,
		store:    store,
		rawStore: deps.Store,
		kwIndex:  keyword.NewIndex(keyword.IndexConfig{K1: cfg.Keyword.K1, B: cfg.Keyword.B}),
		scorer:   fusion.NewScorer(cfg.Fusion.K),
		cache:    cache.New(cache.Config{MaxEntries: cfg.Cache.MaxEntries, TTL: cfg.Cache.TTL}),
		ranker: personalize.NewRanker(deps.Graph, personalize.Config{
			TopicWeight:       cfg.Personalize.TopicWeight,
			FamiliarityWeight: cfg.Personalize.FamiliarityWeight,
		}),
		reasoner: temporal.NewReasoner(temporal.Config{
			HalfLifeDays:   cfg.Temporal.HalfLifeDays,
			ImplicitWeight: cfg.Temporal.ImplicitWeight,
		}),
		learner:  lrn,
		facts:    deps.Facts,
		personas: deps.Personas,
	}
}

// Close flushes pending learner updates and stops background work. The
// stores passed in via Deps are owned by the caller.
func (e *Engine) Close() {
	e.learner.Close()
}

type sourceResult struct {
	items []domain.RankedItem
	err   error
}

// Retrieve answers a query for the persona: cache lookup, parallel fetch
// from both sources, fusion, personalization, temporal adjustment, and a
// logged interaction. At least one healthy source yields a (possibly
// degraded) response; only both failing fails the call.
func (e *Engine) Retrieve(ctx context.Context, query, persona string, k int, opts domain.RetrievalOptions) (domain.RankedResults, error) {
	started := time.Now()

	if strings.TrimSpace(query) == "" {
		return domain.RankedResults{Status: domain.StatusFailed}, fmt.Errorf("empty query: %w", resilience.ErrInvalidQuery)
	}
	if k <= 0 {
		return domain.RankedResults{Status: domain.StatusFailed}, fmt.Errorf("k must be positive, got %d: %w", k, resilience.ErrInvalidQuery)
	}

	tc := e.reasoner.EnhanceQuery(query)
	if opts.TimeWindow != nil {
		tc = temporal.TimeContext{Explicit: true, Range: *opts.TimeWindow}
	}

	key := cache.Key{
		Query:        query,
		Persona:      persona,
		K:            k,
		ModelVersion: e.config.Engine.EmbeddingModelVersion,
		Options:      opts,
	}
	if opts.UseCache {
		if hit, ok := e.cache.Get(key); ok {
			return hit, nil
		}
	}

	lists, failed, vecErr, kwErr := e.fanOut(ctx, query)
	if len(lists) == 0 {
		err := &resilience.BothSourcesFailedError{VectorErr: vecErr, KeywordErr: kwErr}
		e.logger.Error("retrieval failed", "query_len", len(query), "error", err)
		return domain.RankedResults{Status: domain.StatusFailed, FailedSources: failed}, err
	}

	results := e.fuse(ctx, lists, e.sourceWeights(query, opts))
	results = e.personalizeResults(ctx, persona, results, opts)
	results = e.reasoner.ApplyFilter(results, tc)
	results = e.reasoner.Adjust(results, tc)
	if k < len(results) {
		results = results[:k]
	}

	interactionID := e.recordInteraction(ctx, query, persona, results, started)

	out := domain.RankedResults{
		Results:       results,
		Status:        domain.StatusComplete,
		FailedSources: failed,
		InteractionID: interactionID,
		Elapsed:       time.Since(started),
	}
	if len(failed) > 0 {
		out.Status = domain.StatusDegraded
	}

	// Degraded responses are never cached: a healthy backend should not
	// keep serving yesterday's partial ranking.
	if opts.UseCache && out.Status == domain.StatusComplete {
		e.cache.Put(key, out)
	}
	return out, nil
}

// fanOut queries both sources in parallel, each under its own timeout.
// Source failures are collected, not propagated: the caller decides whether
// partial results are acceptable.
func (e *Engine) fanOut(ctx context.Context, query string) (map[string][]domain.RankedItem, []string, error, error) {
	fetchK := e.config.Engine.FetchK
	var vecRes, kwRes sourceResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, e.config.Engine.SourceTimeout)
		defer cancel()
		vecRes.items, vecRes.err = e.vectorSearch(sctx, query, fetchK)
		return nil
	})
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, e.config.Engine.SourceTimeout)
		defer cancel()
		kwRes.items, kwRes.err = e.kwIndex.Search(sctx, query, fetchK)
		return nil
	})
	_ = g.Wait()

	lists := make(map[string][]domain.RankedItem, 2)
	var failed []string
	if vecRes.err != nil {
		e.logger.Warn("vector source failed", "error", vecRes.err)
		failed = append(failed, domain.SourceVector)
	} else {
		lists[domain.SourceVector] = vecRes.items
	}
	if kwRes.err != nil {
		e.logger.Warn("keyword source failed", "error", kwRes.err)
		failed = append(failed, domain.SourceBM25)
	} else {
		lists[domain.SourceBM25] = kwRes.items
	}
	return lists, failed, vecRes.err, kwRes.err
}

func (e *Engine) vectorSearch(ctx context.Context, query string, k int) ([]domain.RankedItem, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.store.Query(ctx, embedding, k, vector.Filter{})
}

// sourceWeights picks fusion weights for the query. Quoted queries signal
// exact-match intent, so the keyword source gets the heavier weight there.
// Explicit option weights override the heuristic.
func (e *Engine) sourceWeights(query string, opts domain.RetrievalOptions) map[string]float64 {
	if len(opts.SourceWeights) > 0 {
		return opts.SourceWeights
	}
	if strings.Count(query, `"`) >= 2 {
		return map[string]float64{domain.SourceVector: 0.5, domain.SourceBM25: 1.5}
	}
	return map[string]float64{domain.SourceVector: 1.0, domain.SourceBM25: 1.0}
}

// fuse combines the per-source lists and materializes chunks. When the
// chunk fetch itself fails, results keep their IDs and scores with empty
// chunk bodies rather than failing the query.
func (e *Engine) fuse(ctx context.Context, lists map[string][]domain.RankedItem, weights map[string]float64) []domain.RetrievedResult {
	seen := make(map[string]struct{})
	var ids []string
	for _, items := range lists {
		for _, item := range items {
			if _, ok := seen[item.ID]; !ok {
				seen[item.ID] = struct{}{}
				ids = append(ids, item.ID)
			}
		}
	}

	chunks := make(map[string]domain.Chunk, len(ids))
	fetched, err := e.store.Get(ctx, ids)
	if err != nil {
		e.logger.Warn("chunk fetch failed, returning ids only", "error", err)
	}
	for _, c := range fetched {
		chunks[c.ID] = c
	}
	for _, id := range ids {
		if _, ok := chunks[id]; !ok {
			chunks[id] = domain.Chunk{ID: id}
		}
	}

	return e.scorer.FuseResults(lists, weights, chunks)
}

// personalizeResults applies persona boosts. Personalization failures never
// fail the query: base retrieval does not depend on graph health.
func (e *Engine) personalizeResults(ctx context.Context, persona string, results []domain.RetrievedResult, opts domain.RetrievalOptions) []domain.RetrievedResult {
	if !opts.UsePersonalization || persona == "" {
		return results
	}
	reranked, err := e.ranker.Rerank(ctx, persona, results)
	if err != nil {
		e.logger.Warn("personalization skipped", "persona", persona, "error", err)
		return results
	}
	return reranked
}

// recordInteraction logs the completed retrieval. Failure to log is
// reported but never fails the query.
func (e *Engine) recordInteraction(ctx context.Context, query, persona string, results []domain.RetrievedResult, started time.Time) string {
	if persona == "" {
		return ""
	}
	chunkIDs := make([]string, len(results))
	for i, res := range results {
		chunkIDs[i] = res.Chunk.ID
	}
	id, err := e.learner.RecordInteraction(ctx, domain.Interaction{
		Persona:           persona,
		Query:             query,
		RetrievedChunkIDs: chunkIDs,
		Timestamp:         started.UTC(),
		LatencyMs:         time.Since(started).Milliseconds(),
	})
	if err != nil {
		e.logger.Error("interaction log write failed", "persona", persona, "error", err)
		return ""
	}
	return id
}

// RecordFeedback attaches explicit feedback to a logged interaction.
func (e *Engine) RecordFeedback(ctx context.Context, interactionID string, kind domain.FeedbackKind) error {
	return e.learner.AttachFeedback(ctx, interactionID, kind)
}

// IndexChunks adds chunks to both retrieval sources and invalidates every
// cached ranking, since any of them could now be stale.
func (e *Engine) IndexChunks(ctx context.Context, chunks []domain.Chunk) error {
	if err := e.store.Add(ctx, chunks); err != nil {
		return fmt.Errorf("index chunks: vector store: %w", err)
	}
	e.kwIndex.IndexChunks(chunks)
	e.cache.Purge()
	return nil
}

// ChunkLister is implemented by stores that can enumerate their chunks.
type ChunkLister interface {
	All(ctx context.Context) ([]domain.Chunk, error)
}

// WarmKeywordIndex rebuilds the in-memory keyword index from the vector
// store's persisted chunks, so both sources agree on the corpus after a
// restart. A no-op when the store cannot enumerate chunks.
func (e *Engine) WarmKeywordIndex() error {
	lister, ok := e.rawStore.(ChunkLister)
	if !ok {
		return nil
	}
	chunks, err := lister.All(context.Background())
	if err != nil {
		return fmt.Errorf("warm keyword index: %w", err)
	}
	e.kwIndex.Rebuild(chunks)
	return nil
}

// DeleteChunks removes chunks from both sources and drops cached rankings.
func (e *Engine) DeleteChunks(ctx context.Context, ids []string) error {
	if err := e.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete chunks: vector store: %w", err)
	}
	e.kwIndex.Delete(ids)
	e.cache.Purge()
	return nil
}

// Flush blocks until pending learner updates are applied. Used by tests and
// by shutdown paths that need the graph caught up.
func (e *Engine) Flush() {
	e.learner.Flush()
}

// StoreHealth reports the resilient client's circuit state.
func (e *Engine) StoreHealth() resilience.Health {
	return e.store.Health()
}

// KeywordStats reports keyword index counters.
func (e *Engine) KeywordStats() keyword.Stats {
	return e.kwIndex.Stats()
}

// VerifyKeywordIndex cross-checks the keyword index's internal structures.
func (e *Engine) VerifyKeywordIndex() error {
	return e.kwIndex.Verify()
}

// CompactKeywordIndex reclaims tombstoned postings.
func (e *Engine) CompactKeywordIndex() {
	e.kwIndex.Compact()
}

// CacheStats reports query cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Personas exposes the persona manager.
func (e *Engine) Personas() *PersonaManager {
	return e.personas
}

// FactsAsOf returns the persona's temporal facts valid at t.
func (e *Engine) FactsAsOf(ctx context.Context, persona string, t time.Time) ([]temporal.Fact, error) {
	return e.facts.FactsAsOf(ctx, persona, t)
}

// SaveFact stores a new version of a temporal fact.
func (e *Engine) SaveFact(ctx context.Context, f temporal.Fact) (string, error) {
	return e.facts.SaveFact(ctx, f)
}

// ExportPersonaMemory bundles everything remembered about a persona.
func (e *Engine) ExportPersonaMemory(ctx context.Context, persona string) (*domain.ExportBundle, error) {
	bundle, err := e.learner.ExportUser(ctx, persona)
	if err != nil {
		return nil, err
	}
	if p, err := e.personas.Get(ctx, persona); err == nil {
		bundle.Persona = p
	}
	return bundle, nil
}

// DeleteInteraction removes one interaction and reverses its graph
// contributions, then drops the persona's cached rankings.
func (e *Engine) DeleteInteraction(ctx context.Context, persona, interactionID string) error {
	if err := e.learner.DeleteInteraction(ctx, interactionID); err != nil {
		return err
	}
	e.cache.InvalidatePersona(persona)
	return nil
}

// ClearPersonaMemory wipes the persona's interactions, graph state, facts,
// and cached rankings. The persona record itself survives.
func (e *Engine) ClearPersonaMemory(ctx context.Context, persona string) error {
	if err := e.learner.ClearUser(ctx, persona); err != nil {
		return err
	}
	if err := e.facts.DeletePersona(ctx, persona); err != nil {
		return err
	}
	e.cache.InvalidatePersona(persona)
	return nil
}
