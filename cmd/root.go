// Package cmd provides the recall CLI: indexing, search, persona
// management, and memory privacy operations over the local retrieval
// engine.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyper-light/recall/core/config"
	"github.com/hyper-light/recall/core/engine"
	"github.com/hyper-light/recall/core/graph"
	"github.com/hyper-light/recall/core/learner"
	"github.com/hyper-light/recall/core/temporal"
	"github.com/hyper-light/recall/core/vector"
)

var (
	configPath string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - local personalized hybrid retrieval",
	Long: `Recall is a local-first retrieval engine: hybrid vector + keyword
search, fused with reciprocal rank fusion and personalized by a memory
graph built from your own interaction history. Everything stays on disk;
no query or interaction ever leaves the machine.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "recall.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// runtime bundles the engine with the stores it borrows, so commands can
// close everything they opened.
type runtime struct {
	engine *engine.Engine
	cfg    config.Config

	store    *vector.SQLiteStore
	graph    *graph.SQLiteGraph
	log      *learner.Log
	facts    *temporal.FactStore
	personas *engine.PersonaManager
	embedder *vector.CachedEmbedder
}

func (r *runtime) close() {
	r.engine.Close()
	r.embedder.Close()
	r.store.Close()
	r.graph.Close()
	r.log.Close()
	r.facts.Close()
	r.personas.Close()
}

// newLearner builds a standalone learner over the runtime's stores, for
// maintenance commands that replay the interaction log directly.
func (r *runtime) newLearner() *learner.Learner {
	return learner.New(r.log, r.graph, nil, learner.Config{
		TopicTopN:    r.cfg.Learner.TopicTopN,
		QueueSize:    r.cfg.Learner.QueueSize,
		WriteRetries: r.cfg.Learner.WriteRetries,
	}, nil)
}

// openRuntime loads config and opens every store under the data directory.
func openRuntime() (*runtime, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := vector.OpenSQLiteStore(filepath.Join(cfg.DataDir, "vectors.db"))
	if err != nil {
		return nil, err
	}
	g, err := graph.OpenSQLite(filepath.Join(cfg.DataDir, "graph.db"), graph.Config{
		InitialInterest:        cfg.Graph.InitialInterest,
		InitialConfidence:      cfg.Graph.InitialConfidence,
		ConfidenceStep:         cfg.Graph.ConfidenceStep,
		ConfidenceHalfLifeDays: cfg.Graph.ConfidenceHalfLifeDays,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	log, err := learner.OpenLog(filepath.Join(cfg.DataDir, "interactions.db"))
	if err != nil {
		store.Close()
		g.Close()
		return nil, err
	}
	facts, err := temporal.OpenFactStore(filepath.Join(cfg.DataDir, "facts.db"))
	if err != nil {
		store.Close()
		g.Close()
		log.Close()
		return nil, err
	}
	personas, err := engine.OpenPersonaManager(filepath.Join(cfg.DataDir, "personas.db"))
	if err != nil {
		store.Close()
		g.Close()
		log.Close()
		facts.Close()
		return nil, err
	}

	embedder, err := vector.NewCachedEmbedder(vector.NewHashEmbedder(0), 0)
	if err != nil {
		store.Close()
		g.Close()
		log.Close()
		facts.Close()
		personas.Close()
		return nil, err
	}

	eng := engine.New(cfg, engine.Deps{
		Store:    store,
		Embedder: embedder,
		Graph:    g,
		Log:      log,
		Facts:    facts,
		Personas: personas,
		Logger:   logger,
	})

	// Warm the keyword index from the persisted chunks so both sources
	// see the same corpus after a restart.
	if err := eng.WarmKeywordIndex(); err != nil {
		logger.Warn("keyword index warm failed", "error", err)
	}

	return &runtime{
		engine:   eng,
		cfg:      cfg,
		store:    store,
		graph:    g,
		log:      log,
		facts:    facts,
		personas: personas,
		embedder: embedder,
	}, nil
}
