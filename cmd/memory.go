package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyper-light/recall/core/temporal"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and control what the engine remembers",
}

var memoryTopicsCmd = &cobra.Command{
	Use:   "topics <persona>",
	Short: "Show the persona's top interest topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		topics, err := rt.graph.GetTopTopics(cmd.Context(), args[0], 20)
		if err != nil {
			return err
		}
		for _, ts := range topics {
			fmt.Printf("%-30s score=%.3f freq=%-4d confidence=%.2f\n",
				ts.Topic, ts.Score, ts.Frequency, ts.Confidence)
		}
		return nil
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <persona>",
	Short: "Export everything remembered about a persona as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		bundle, err := rt.engine.ExportPersonaMemory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <persona>",
	Short: "Delete the persona's interaction history, graph state, and facts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.engine.ClearPersonaMemory(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cleared memory for persona %q\n", args[0])
		return nil
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <persona> <interaction-id>",
	Short: "Delete one interaction and reverse its graph contributions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.engine.DeleteInteraction(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("forgot interaction %s\n", args[1])
		return nil
	},
}

var memoryRebuildCmd = &cobra.Command{
	Use:   "rebuild <persona>",
	Short: "Rebuild the persona's memory graph from the interaction log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		lrn := rt.newLearner()
		defer lrn.Close()
		if err := lrn.Rebuild(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("rebuilt graph for persona %q\n", args[0])
		return nil
	},
}

var (
	factType    string
	factLineage string
	factAsOf    string
)

var factCmd = &cobra.Command{
	Use:   "fact",
	Short: "Manage temporal facts",
}

var factAddCmd = &cobra.Command{
	Use:   "add <persona> <content>",
	Short: "Record a fact (new lineage, or a new version with --lineage)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		lineage, err := rt.engine.SaveFact(cmd.Context(), temporal.Fact{
			LineageID:  factLineage,
			Persona:    args[0],
			FactType:   factType,
			Content:    args[1],
			Confidence: 1.0,
			Source:     "cli",
		})
		if err != nil {
			return err
		}
		fmt.Printf("fact saved, lineage %s\n", lineage)
		return nil
	},
}

var factListCmd = &cobra.Command{
	Use:   "list <persona>",
	Short: "List facts valid now, or at --as-of",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		at := time.Now()
		if factAsOf != "" {
			parsed, err := time.Parse("2006-01-02", factAsOf)
			if err != nil {
				return fmt.Errorf("parse --as-of: %w", err)
			}
			at = parsed
		}
		facts, err := rt.engine.FactsAsOf(cmd.Context(), args[0], at)
		if err != nil {
			return err
		}
		for _, f := range facts {
			validTo := "open"
			if f.ValidTo != nil {
				validTo = f.ValidTo.Format("2006-01-02")
			}
			fmt.Printf("%s  [%s]  %s -> %s  %s\n",
				f.LineageID, f.FactType, f.ValidFrom.Format("2006-01-02"), validTo, f.Content)
		}
		return nil
	},
}

func init() {
	memoryCmd.AddCommand(memoryTopicsCmd)
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
	memoryCmd.AddCommand(memoryRebuildCmd)
	rootCmd.AddCommand(memoryCmd)

	factAddCmd.Flags().StringVar(&factType, "type", "note", "fact type")
	factAddCmd.Flags().StringVar(&factLineage, "lineage", "", "existing lineage to version")
	factListCmd.Flags().StringVar(&factAsOf, "as-of", "", "anchor date (YYYY-MM-DD)")
	factCmd.AddCommand(factAddCmd)
	factCmd.AddCommand(factListCmd)
	rootCmd.AddCommand(factCmd)
}
