// Package cache provides the bounded, TTL'd query cache mapping
// (query, persona, retrieval parameters) to ranked results.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyper-light/recall/core/domain"
)

// Key identifies a cached ranking. Two calls that could produce different
// rankings must never map to the same key, so every retrieval parameter and
// the embedding model version participate.
type Key struct {
	Query        string
	Persona      string
	K            int
	ModelVersion string
	Options      domain.RetrievalOptions
}

// normalizeQuery lowercases and collapses whitespace so trivially different
// spellings of the same query share a cache entry.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// String renders the key as a stable, glob-matchable tag:
// "persona:<name>|v:<model>|q:<hash>". The hash covers the normalized query
// and every parameter; the readable prefix exists so Invalidate can sweep
// by persona or model version with a pattern.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(normalizeQuery(k.Query))
	fmt.Fprintf(&b, "|k=%d", k.K)
	fmt.Fprintf(&b, "|p=%t", k.Options.UsePersonalization)

	if tw := k.Options.TimeWindow; tw != nil {
		fmt.Fprintf(&b, "|tw=%d:%d", tw.Start.UnixNano(), tw.End.UnixNano())
	}
	if len(k.Options.SourceWeights) > 0 {
		sources := make([]string, 0, len(k.Options.SourceWeights))
		for s := range k.Options.SourceWeights {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			fmt.Fprintf(&b, "|w:%s=%g", s, k.Options.SourceWeights[s])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("persona:%s|v:%s|q:%s", k.Persona, k.ModelVersion, hex.EncodeToString(sum[:8]))
}

// Entry is a cached ranking with its expiry bookkeeping.
type Entry struct {
	Results  domain.RankedResults
	StoredAt time.Time
}
