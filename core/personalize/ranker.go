// Package personalize re-ranks fused retrieval results using the persona's
// memory graph: interest topics boost matching chunks, and previously
// accessed documents get a familiarity boost. Boosts only scale existing
// scores; personalization never introduces results retrieval did not find.
package personalize

import (
	"context"
	"sort"
	"strings"

	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/graph"
	"github.com/hyper-light/recall/core/keyword"
)

// topicFetchLimit bounds how much of the interest profile one rerank reads.
const topicFetchLimit = 50

// Config holds the personalization weights.
type Config struct {
	// TopicWeight scales the interest-topic boost.
	TopicWeight float64

	// FamiliarityWeight scales the document-familiarity boost.
	FamiliarityWeight float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{TopicWeight: 0.3, FamiliarityWeight: 0.2}
}

// Ranker applies persona-specific boosts on top of fused scores.
type Ranker struct {
	graph  graph.Graph
	config Config
}

// NewRanker creates a ranker reading interest and access signals from g.
func NewRanker(g graph.Graph, config Config) *Ranker {
	if config.TopicWeight == 0 && config.FamiliarityWeight == 0 {
		config = DefaultConfig()
	}
	return &Ranker{graph: g, config: config}
}

// Rerank returns results re-scored for the user, best first. A user with no
// recorded interests and no access history gets the input back unchanged:
// new users see pure relevance ranking.
func (r *Ranker) Rerank(ctx context.Context, user string, results []domain.RetrievedResult) ([]domain.RetrievedResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	topics, err := r.graph.GetTopTopics(ctx, user, topicFetchLimit)
	if err != nil {
		return nil, err
	}

	docIDs := make([]string, len(results))
	for i, res := range results {
		docIDs[i] = res.Chunk.ID
	}
	counts, err := r.graph.AccessCounts(ctx, user, docIDs)
	if err != nil {
		return nil, err
	}

	if len(topics) == 0 && len(counts) == 0 {
		return results, nil
	}

	interest := make(map[string]float64, len(topics))
	for _, ts := range topics {
		interest[ts.Topic] = ts.Score
	}

	var maxCount int64
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	out := make([]domain.RetrievedResult, len(results))
	copy(out, results)
	for i := range out {
		boost := r.topicBoost(out[i].Chunk, interest)
		if maxCount > 0 {
			boost += float64(counts[out[i].Chunk.ID]) / float64(maxCount) * r.config.FamiliarityWeight
		}
		out[i].Score *= 1 + boost
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].RankSum() != out[j].RankSum() {
			return out[i].RankSum() < out[j].RankSum()
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out, nil
}

// topicBoost sums the decayed interest scores of topics the chunk matches,
// via its tags or its text terms, each topic counted once.
func (r *Ranker) topicBoost(chunk domain.Chunk, interest map[string]float64) float64 {
	if len(interest) == 0 {
		return 0
	}

	matched := make(map[string]struct{})
	for _, tag := range chunk.Tags() {
		if _, ok := interest[strings.ToLower(tag)]; ok {
			matched[strings.ToLower(tag)] = struct{}{}
		}
	}
	for _, term := range keyword.Tokenize(chunk.Text) {
		if _, ok := interest[term]; ok {
			matched[term] = struct{}{}
		}
	}

	var boost float64
	for topic := range matched {
		boost += interest[topic] * r.config.TopicWeight
	}
	return boost
}
