package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/temporal"
)

var (
	searchPersona     string
	searchK           int
	searchJSON        bool
	searchNoCache     bool
	searchNoPersonal  bool
	searchSince       string
	searchBM25Weight  float64
	searchVecWeight   float64
	searchShowSources bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed corpus",
	Long: `Search the indexed corpus with hybrid retrieval: vector and BM25
results fused with reciprocal rank fusion, personalized by the persona's
memory graph, and adjusted for recency.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchPersona, "persona", "p", "default", "active persona")
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 10, "number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "JSON output")
	searchCmd.Flags().BoolVar(&searchNoCache, "no-cache", false, "bypass the query cache")
	searchCmd.Flags().BoolVar(&searchNoPersonal, "no-personalize", false, "skip personalization")
	searchCmd.Flags().StringVar(&searchSince, "since", "", `restrict to a time window ("-30d", "2026-01-15", "last week")`)
	searchCmd.Flags().Float64Var(&searchVecWeight, "vector-weight", 0, "override vector source weight")
	searchCmd.Flags().Float64Var(&searchBM25Weight, "bm25-weight", 0, "override bm25 source weight")
	searchCmd.Flags().BoolVar(&searchShowSources, "sources", false, "show per-source scores")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	query := args[0]
	for _, extra := range args[1:] {
		query += " " + extra
	}

	opts := domain.DefaultRetrievalOptions()
	opts.UseCache = !searchNoCache
	opts.UsePersonalization = !searchNoPersonal
	if searchSince != "" {
		tc := temporal.ParseTimeExpression(searchSince, time.Now())
		if !tc.Explicit {
			return fmt.Errorf("unrecognized time expression %q", searchSince)
		}
		opts.TimeWindow = &tc.Range
	}
	if searchVecWeight > 0 || searchBM25Weight > 0 {
		opts.SourceWeights = map[string]float64{}
		if searchVecWeight > 0 {
			opts.SourceWeights[domain.SourceVector] = searchVecWeight
		}
		if searchBM25Weight > 0 {
			opts.SourceWeights[domain.SourceBM25] = searchBM25Weight
		}
	}

	results, err := rt.engine.Retrieve(cmd.Context(), query, searchPersona, searchK, opts)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printResults(results)
	return nil
}

func printResults(results domain.RankedResults) {
	switch results.Status {
	case domain.StatusDegraded:
		fmt.Printf("! degraded: sources failed: %v\n", results.FailedSources)
	case domain.StatusFailed:
		fmt.Println("! retrieval failed")
		return
	}
	if results.FromCache {
		fmt.Println("(cached)")
	}

	for i, res := range results.Results {
		fmt.Printf("%2d. [%.4f] %s", i+1, res.Score, res.Chunk.ID)
		if res.Chunk.DocumentID != "" {
			fmt.Printf("  (%s)", res.Chunk.DocumentID)
		}
		fmt.Println()
		if res.Chunk.Text != "" {
			fmt.Printf("    %s\n", snippet(res.Chunk.Text, 160))
		}
		if searchShowSources {
			for source, score := range res.SourceScores {
				fmt.Printf("    %s: score=%.4f rank=%d\n", source, score, res.SourceRanks[source])
			}
		}
	}
	fmt.Printf("\n%d results in %s\n", len(results.Results), results.Elapsed.Round(time.Millisecond))
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

// feedback attaches after-the-fact quality signals to an interaction.
var feedbackCmd = &cobra.Command{
	Use:   "feedback <interaction-id> <positive|negative>",
	Short: "Attach feedback to a past search",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		return rt.engine.RecordFeedback(cmd.Context(), args[0], domain.FeedbackKind(args[1]))
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
}
