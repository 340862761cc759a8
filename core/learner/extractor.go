package learner

import (
	"sort"

	"github.com/hyper-light/recall/core/keyword"
)

// TopicExtractor pulls topic terms out of query text. Everything runs
// locally; no query text ever leaves the process.
type TopicExtractor interface {
	Extract(query string, topN int) []string
}

// FrequencyExtractor ranks the query's content terms by occurrence count.
// It reuses the keyword tokenizer, so topics and the BM25 index agree on
// what a term is.
type FrequencyExtractor struct{}

// Extract returns up to topN terms, most frequent first, ties broken
// lexically.
func (FrequencyExtractor) Extract(query string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, term := range keyword.Tokenize(query) {
		counts[term]++
	}
	if len(counts) == 0 {
		return nil
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if topN < len(terms) {
		terms = terms[:topN]
	}
	return terms
}
