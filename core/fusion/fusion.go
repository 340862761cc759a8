// Package fusion implements weighted Reciprocal Rank Fusion (RRF) for
// merging ranked lists from multiple retrieval sources into a single,
// deterministic ranking.
//
// The RRF formula is: score(d) = Σ over sources s (weight_s / (k + rank_s))
// where k is a smoothing constant (typically 60) that mitigates the impact
// of very high rankings. Items appearing in multiple sources sum their
// contributions, which is the mechanism that rewards cross-source agreement.
package fusion

import (
	"sort"
	"sync"

	"github.com/hyper-light/recall/core/domain"
)

// DefaultK is the standard RRF smoothing constant. Lower values favor
// top-ranked items more aggressively.
const DefaultK = 60

// Scorer fuses per-source ranked lists using weighted RRF.
type Scorer struct {
	mu sync.RWMutex
	k  int
}

// NewScorer creates a Scorer with the given smoothing constant.
// If k <= 0, DefaultK is used.
func NewScorer(k int) *Scorer {
	if k <= 0 {
		k = DefaultK
	}
	return &Scorer{k: k}
}

// K returns the smoothing constant.
func (s *Scorer) K() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k
}

// SetK updates the smoothing constant. Non-positive values are ignored.
func (s *Scorer) SetK(k int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k > 0 {
		s.k = k
	}
}

// fusedEntry accumulates per-item state during fusion.
type fusedEntry struct {
	id      string
	score   float64
	rankSum int
	scores  map[string]float64
	ranks   map[string]int
}

// Fuse merges one ranked list per source into a single list sorted by fused
// score descending. Ranks in the input lists are positional (index 0 is rank
// 1); any Rank field on the items is ignored. A missing weight defaults to
// 1.0. An empty or nil list for a source contributes nothing; if every
// source is empty the result is empty.
//
// Ordering is fully deterministic: ties on fused score break by lowest
// combined rank-sum, then by item ID.
func (s *Scorer) Fuse(lists map[string][]domain.RankedItem, weights map[string]float64) []domain.RankedItem {
	s.mu.RLock()
	k := s.k
	s.mu.RUnlock()

	entries := make(map[string]*fusedEntry)

	// Iterate sources in sorted order so map accumulation is reproducible.
	for _, source := range sortedSources(lists) {
		weight := 1.0
		if w, ok := weights[source]; ok {
			weight = w
		}
		for i, item := range lists[source] {
			rank := i + 1
			e, ok := entries[item.ID]
			if !ok {
				e = &fusedEntry{
					id:     item.ID,
					scores: make(map[string]float64),
					ranks:  make(map[string]int),
				}
				entries[item.ID] = e
			}
			e.score += weight / float64(k+rank)
			e.rankSum += rank
			e.scores[source] = item.Score
			e.ranks[source] = rank
		}
	}

	fused := make([]domain.RankedItem, 0, len(entries))
	order := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		order = append(order, e)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		if order[i].rankSum != order[j].rankSum {
			return order[i].rankSum < order[j].rankSum
		}
		return order[i].id < order[j].id
	})

	for i, e := range order {
		fused = append(fused, domain.RankedItem{ID: e.id, Score: e.score, Rank: i + 1})
	}
	return fused
}

// FuseTopK is like Fuse but returns only the top K results. If topK <= 0 or
// exceeds the result count, all results are returned.
func (s *Scorer) FuseTopK(lists map[string][]domain.RankedItem, weights map[string]float64, topK int) []domain.RankedItem {
	fused := s.Fuse(lists, weights)
	if topK > 0 && topK < len(fused) {
		return fused[:topK]
	}
	return fused
}

// FuseResults is Fuse with full result materialization: per-source raw
// scores and ranks are carried onto the returned RetrievedResults so
// downstream layers (personalization, presentation) can inspect them.
// Chunks absent from the provided lookup are skipped.
func (s *Scorer) FuseResults(lists map[string][]domain.RankedItem, weights map[string]float64, chunks map[string]domain.Chunk) []domain.RetrievedResult {
	fused := s.Fuse(lists, weights)

	perSource := make(map[string]map[string]domain.RankedItem, len(lists))
	for source, items := range lists {
		byID := make(map[string]domain.RankedItem, len(items))
		for i, item := range items {
			item.Rank = i + 1
			byID[item.ID] = item
		}
		perSource[source] = byID
	}

	results := make([]domain.RetrievedResult, 0, len(fused))
	for _, item := range fused {
		chunk, ok := chunks[item.ID]
		if !ok {
			continue
		}
		r := domain.RetrievedResult{
			Chunk:        chunk,
			Score:        item.Score,
			SourceScores: make(map[string]float64),
			SourceRanks:  make(map[string]int),
		}
		for source, byID := range perSource {
			if src, ok := byID[item.ID]; ok {
				r.SourceScores[source] = src.Score
				r.SourceRanks[source] = src.Rank
			}
		}
		results = append(results, r)
	}
	return results
}

func sortedSources(lists map[string][]domain.RankedItem) []string {
	sources := make([]string, 0, len(lists))
	for s := range lists {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}
