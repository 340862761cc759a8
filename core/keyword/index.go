package keyword

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/resilience"
)

// IndexConfig configures BM25 scoring.
type IndexConfig struct {
	// K1 controls term-frequency saturation.
	K1 float64

	// B controls document-length normalization.
	B float64
}

// DefaultIndexConfig returns the standard BM25 parameters.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{K1: 1.5, B: 0.75}
}

// posting is one (chunk, term) occurrence count.
type posting struct {
	chunkID string
	freq    int
}

// Index is an in-memory BM25 inverted index. Newly added chunks are
// searchable immediately; deletions tombstone the chunk rather than
// compacting postings, so Compact is a maintenance operation rather than a
// per-call cost.
type Index struct {
	mu sync.RWMutex

	config IndexConfig

	postings   map[string][]posting
	docLengths map[string]int
	docTerms   map[string][]string
	tombstoned map[string]struct{}
	totalLen   int
}

// NewIndex creates an empty index. Zero config fields fall back to the
// standard BM25 parameters.
func NewIndex(config IndexConfig) *Index {
	if config.K1 <= 0 {
		config.K1 = DefaultIndexConfig().K1
	}
	if config.B <= 0 {
		config.B = DefaultIndexConfig().B
	}
	return &Index{
		config:     config,
		postings:   make(map[string][]posting),
		docLengths: make(map[string]int),
		docTerms:   make(map[string][]string),
		tombstoned: make(map[string]struct{}),
	}
}

// IndexChunks adds chunks incrementally. Re-adding a chunk ID replaces its
// content: the old postings are stripped before the new ones go in, whether
// the chunk was live or tombstoned.
func (idx *Index) IndexChunks(chunks []domain.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, c := range chunks {
		if length, live := idx.docLengths[c.ID]; live {
			idx.totalLen -= length
			delete(idx.docLengths, c.ID)
		}
		idx.removePostingsLocked(c.ID)
		delete(idx.tombstoned, c.ID)

		tokens := Tokenize(c.Text)
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		terms := make([]string, 0, len(counts))
		for term, freq := range counts {
			idx.postings[term] = append(idx.postings[term], posting{chunkID: c.ID, freq: freq})
			terms = append(terms, term)
		}
		idx.docTerms[c.ID] = terms
		idx.docLengths[c.ID] = len(tokens)
		idx.totalLen += len(tokens)
	}
}

// removePostingsLocked physically strips a chunk's postings using its
// recorded term list. Postings of other chunks are untouched.
func (idx *Index) removePostingsLocked(id string) {
	for _, term := range idx.docTerms[id] {
		plist := idx.postings[term]
		kept := plist[:0]
		for _, p := range plist {
			if p.chunkID != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = kept
		}
	}
	delete(idx.docTerms, id)
}

// Delete tombstones chunks by ID. Tombstoned chunks stop appearing in
// search results immediately; their postings are reclaimed by Compact.
func (idx *Index) Delete(ids []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		idx.tombstoneLocked(id)
	}
}

func (idx *Index) tombstoneLocked(id string) {
	if _, live := idx.docLengths[id]; !live {
		return
	}
	idx.tombstoned[id] = struct{}{}
	idx.totalLen -= idx.docLengths[id]
	delete(idx.docLengths, id)
}

// Search scores the query against the index with BM25 and returns the top k
// chunks, best first. An empty index or a query that tokenizes to zero
// terms returns an empty list, not an error: "no keyword signal" is valid
// fusion input. Ordering is deterministic (score descending, ID ascending).
func (idx *Index) Search(ctx context.Context, query string, k int) ([]domain.RankedItem, error) {
	terms := Tokenize(query)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docCount := len(idx.docLengths)
	if docCount == 0 {
		return nil, nil
	}
	avgLen := float64(idx.totalLen) / float64(docCount)

	scores := make(map[string]float64)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		plist := idx.postings[term]
		df := 0
		for _, p := range plist {
			if _, dead := idx.tombstoned[p.chunkID]; !dead {
				df++
			}
		}
		if df == 0 {
			continue
		}

		idf := math.Log(1 + (float64(docCount)-float64(df)+0.5)/(float64(df)+0.5))
		for _, p := range plist {
			if _, dead := idx.tombstoned[p.chunkID]; dead {
				continue
			}
			docLen := float64(idx.docLengths[p.chunkID])
			tf := float64(p.freq)
			norm := idx.config.K1 * (1 - idx.config.B + idx.config.B*docLen/avgLen)
			scores[p.chunkID] += idf * (tf * (idx.config.K1 + 1)) / (tf + norm)
		}
	}

	items := make([]domain.RankedItem, 0, len(scores))
	for id, score := range scores {
		items = append(items, domain.RankedItem{ID: id, Score: score})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})

	if k < len(items) {
		items = items[:k]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items, nil
}

// Compact reclaims tombstoned postings. Maintenance operation; search
// correctness does not depend on it.
func (idx *Index) Compact() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.tombstoned) == 0 {
		return
	}

	for term, plist := range idx.postings {
		kept := plist[:0]
		for _, p := range plist {
			if _, dead := idx.tombstoned[p.chunkID]; !dead {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = kept
		}
	}
	for id := range idx.tombstoned {
		delete(idx.docTerms, id)
	}
	idx.tombstoned = make(map[string]struct{})
}

// Verify cross-checks index invariants and returns an IndexCorruptionError
// when they do not hold. Callers treat corruption as fatal to this index
// (rebuild from source), not as a query failure.
func (idx *Index) Verify() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	sum := 0
	for _, plist := range idx.postings {
		for _, p := range plist {
			if _, dead := idx.tombstoned[p.chunkID]; dead {
				continue
			}
			if _, ok := idx.docLengths[p.chunkID]; !ok {
				return fmt.Errorf("posting references unknown chunk %s: %w", p.chunkID, resilience.ErrIndexCorruption)
			}
			seen[p.chunkID] = struct{}{}
		}
	}
	for id, length := range idx.docLengths {
		if length > 0 {
			if _, ok := seen[id]; !ok {
				return fmt.Errorf("chunk %s has no postings: %w", id, resilience.ErrIndexCorruption)
			}
		}
		sum += length
	}
	if sum != idx.totalLen {
		return fmt.Errorf("length sum %d != tracked total %d: %w", sum, idx.totalLen, resilience.ErrIndexCorruption)
	}
	return nil
}

// Rebuild discards all state and re-indexes chunks from source.
func (idx *Index) Rebuild(chunks []domain.Chunk) {
	idx.mu.Lock()
	idx.postings = make(map[string][]posting)
	idx.docLengths = make(map[string]int)
	idx.docTerms = make(map[string][]string)
	idx.tombstoned = make(map[string]struct{})
	idx.totalLen = 0
	idx.mu.Unlock()

	idx.IndexChunks(chunks)
}

// Stats describes the index for observability.
type Stats struct {
	LiveChunks  int `json:"live_chunks"`
	Tombstoned  int `json:"tombstoned"`
	UniqueTerms int `json:"unique_terms"`
}

// Stats returns index counters.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		LiveChunks:  len(idx.docLengths),
		Tombstoned:  len(idx.tombstoned),
		UniqueTerms: len(idx.postings),
	}
}
