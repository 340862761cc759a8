package temporal

import (
	"math"
	"sort"
	"time"

	"github.com/hyper-light/recall/core/domain"
)

// Config holds the recency tunables.
type Config struct {
	// HalfLifeDays controls the recency decay rate.
	HalfLifeDays float64

	// ImplicitWeight is the additive recency weight for queries with no
	// explicit time expression.
	ImplicitWeight float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{HalfLifeDays: 30, ImplicitWeight: 0.1}
}

// Reasoner applies temporal interpretation to queries and results.
type Reasoner struct {
	config Config
	now    func() time.Time
}

// NewReasoner creates a reasoner with the given recency config.
func NewReasoner(config Config) *Reasoner {
	if config.HalfLifeDays <= 0 {
		config.HalfLifeDays = DefaultConfig().HalfLifeDays
	}
	if config.ImplicitWeight < 0 {
		config.ImplicitWeight = 0
	}
	return &Reasoner{config: config, now: time.Now}
}

// EnhanceQuery interprets the query's time expression, if any.
func (r *Reasoner) EnhanceQuery(query string) TimeContext {
	return ParseTimeExpression(query, r.now())
}

// ApplyFilter drops results whose chunk timestamp falls outside the range.
// Results without a parseable timestamp always pass: a missing timestamp is
// not evidence the chunk is out of range.
func (r *Reasoner) ApplyFilter(results []domain.RetrievedResult, tc TimeContext) []domain.RetrievedResult {
	if !tc.Explicit {
		return results
	}

	filtered := make([]domain.RetrievedResult, 0, len(results))
	for _, res := range results {
		ts, ok := res.Chunk.Timestamp()
		if !ok || tc.Range.Contains(ts) {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

// ScoreRecency returns exp(-ageDays/halfLifeDays) for the chunk's age at
// queryTime. Chunks without a timestamp score a neutral 0.5; future
// timestamps clamp to age zero.
func (r *Reasoner) ScoreRecency(res domain.RetrievedResult, queryTime time.Time) float64 {
	ts, ok := res.Chunk.Timestamp()
	if !ok {
		return 0.5
	}
	ageDays := queryTime.Sub(ts).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / r.config.HalfLifeDays)
}

// Adjust folds recency into the scores. Explicit temporal queries weight
// recency multiplicatively; implicit queries add a small additive bonus so
// recency can break near-ties without overturning relevance.
func (r *Reasoner) Adjust(results []domain.RetrievedResult, tc TimeContext) []domain.RetrievedResult {
	queryTime := r.now().UTC()

	out := make([]domain.RetrievedResult, len(results))
	copy(out, results)
	for i := range out {
		recency := r.ScoreRecency(out[i], queryTime)
		if tc.Explicit {
			out[i].Score *= recency
		} else if r.config.ImplicitWeight > 0 {
			out[i].Score += recency * r.config.ImplicitWeight
		}
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
	return out
}
