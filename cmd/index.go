package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyper-light/recall/core/domain"
)

const indexBatchSize = 256

var indexCmd = &cobra.Command{
	Use:   "index <chunks.jsonl>",
	Short: "Index pre-embedded chunks",
	Long: `Index chunks produced by the ingestion pipeline. The input is JSON
Lines, one chunk per line, each with id, document_id, text, embedding, and
optional metadata. Chunks without an embedding get one from the local
fallback embedder.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chunk-id>...",
	Short: "Remove chunks from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.DeleteChunks(cmd.Context(), args); err != nil {
			return err
		}
		fmt.Printf("deleted %d chunks\n", len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open chunks file: %w", err)
	}
	defer f.Close()

	ctx := cmd.Context()
	total := 0
	batch := make([]domain.Chunk, 0, indexBatchSize)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c domain.Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return fmt.Errorf("line %d: %w", total+len(batch)+1, err)
		}
		if c.ID == "" {
			return fmt.Errorf("line %d: chunk id is required", total+len(batch)+1)
		}
		if len(c.Embedding) == 0 {
			if c.Embedding, err = rt.embedder.Embed(ctx, c.Text); err != nil {
				return fmt.Errorf("embed chunk %s: %w", c.ID, err)
			}
		}
		batch = append(batch, c)
		if len(batch) == indexBatchSize {
			if err := rt.engine.IndexChunks(ctx, batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chunks file: %w", err)
	}
	if len(batch) > 0 {
		if err := rt.engine.IndexChunks(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
	}

	fmt.Printf("indexed %d chunks\n", total)
	return nil
}
