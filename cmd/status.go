package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and store health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		health := rt.engine.StoreHealth()
		kw := rt.engine.KeywordStats()
		cacheStats := rt.engine.CacheStats()

		fmt.Printf("vector store:   %d chunks, circuit %s (failure rate %.2f)\n",
			rt.store.Count(), health.State, health.FailureRate)
		fmt.Printf("keyword index:  %d live chunks, %d tombstoned, %d terms\n",
			kw.LiveChunks, kw.Tombstoned, kw.UniqueTerms)
		fmt.Printf("query cache:    %d entries, %d hits, %d misses\n",
			cacheStats.Entries, cacheStats.Hits, cacheStats.Misses)

		if err := rt.engine.VerifyKeywordIndex(); err != nil {
			fmt.Printf("keyword index:  VERIFY FAILED: %v\n", err)
		} else {
			fmt.Println("keyword index:  verified")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
