package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/plugin/ai/memory"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/server/runner/embedding"
	"github.com/hrygo/recall/store"
	"github.com/hrygo/recall/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Persistent multi-tier memory for coding agents",
	Long: `Recall stores episodic, semantic, procedural and working memory for a
coding agent, with ANN similarity search over episode embeddings.

Run without a subcommand to start the daemon: it keeps the vector index warm
and reconciles episodes that were stored while the embedding provider was
unavailable.`,
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		manager, p, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		if embedder := newEmbedder(p); embedder != nil {
			runner := embedding.NewRunner(manager.Store(), embedder, manager.Index())
			go runner.Run(ctx)
		}

		slog.Info("recall daemon started", "mode", p.Mode, "data", p.Data, "driver", p.Driver)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down")
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one task execution as an episode",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		flags := cmd.Flags()
		task, _ := flags.GetString("task")
		summary, _ := flags.GetString("summary")
		outcome, _ := flags.GetString("outcome")
		snapshot, _ := flags.GetString("context")
		files, _ := flags.GetStringSlice("files")
		queries, _ := flags.GetStringSlice("queries")
		tokens, _ := flags.GetInt32("tokens")

		episode, err := manager.RecordEpisode(ctx, &memory.RecordEpisodeRequest{
			Task:            task,
			ContextSnapshot: snapshot,
			QueriesMade:     queries,
			FilesTouched:    files,
			SolutionSummary: summary,
			Outcome:         store.Outcome(outcome),
			TokensUsed:      tokens,
		})
		if err != nil {
			return err
		}
		fmt.Println(episode.UID)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find episodes similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		episodes, err := manager.FindSimilarEpisodes(ctx, args[0], limit)
		if err != nil {
			return err
		}
		for _, episode := range episodes {
			fmt.Printf("%s\t%s\t%s\n", episode.UID, episode.Outcome, episode.TaskDescription)
		}
		return nil
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve ranked context across all memory tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		strategy, _ := cmd.Flags().GetString("strategy")
		budget, _ := cmd.Flags().GetInt("budget")

		items, err := manager.RetrieveContext(ctx, args[0], memory.Strategy(strategy), budget)
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Checkpoint, then compress old episodes into semantic knowledge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		manager, p, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		days, _ := cmd.Flags().GetInt("older-than")
		if days <= 0 {
			days = p.RetentionDays
		}
		cutoff := time.Now().AddDate(0, 0, -days)

		stats, err := manager.CompressMemories(ctx, cutoff)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete episodes below a combined value threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		threshold, _ := cmd.Flags().GetFloat32("threshold")
		stats, err := manager.PruneMemories(ctx, threshold)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-tier memory statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		stats, err := manager.Statistics(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-uid>",
	Short: "Restore memory from a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		return manager.Compressor().RestoreCheckpoint(ctx, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "demo", `mode of the daemon: "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver: "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	for _, flag := range []string{"mode", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()

	recordCmd.Flags().String("task", "", "task description (required)")
	recordCmd.Flags().String("summary", "", "solution summary")
	recordCmd.Flags().String("outcome", "success", `outcome: "success", "failure" or "partial"`)
	recordCmd.Flags().String("context", "", "context snapshot")
	recordCmd.Flags().StringSlice("files", nil, "files touched")
	recordCmd.Flags().StringSlice("queries", nil, "queries made, in order")
	recordCmd.Flags().Int32("tokens", 0, "tokens used (0 = estimate)")
	_ = recordCmd.MarkFlagRequired("task")

	searchCmd.Flags().Int("limit", 5, "maximum results")

	retrieveCmd.Flags().String("strategy", string(memory.StrategyHybrid), "ranking strategy: recency, relevance, importance or hybrid")
	retrieveCmd.Flags().Int("budget", 0, "token budget (0 = unbudgeted)")

	compressCmd.Flags().Int("older-than", 0, "compress episodes older than this many days (0 = retention default)")

	pruneCmd.Flags().Float32("threshold", 0.1, "combined value threshold")

	rootCmd.AddCommand(recordCmd, searchCmd, retrieveCmd, compressCmd, pruneCmd, statsCmd, restoreCmd)
}

// bootstrap builds the full memory stack from flags and environment.
func bootstrap(ctx context.Context) (*memory.Manager, *profile.Profile, error) {
	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		return nil, nil, err
	}

	index := vector.NewHNSW(p.AIEmbeddingDims, vector.DefaultHNSWConfig())
	manager, err := memory.NewManager(p, st, index, newEmbedder(p), nil)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Init(ctx); err != nil {
		return nil, nil, err
	}
	return manager, p, nil
}

// newEmbedder returns nil when embeddings are not configured; the memory
// engine then degrades to keyword search.
func newEmbedder(p *profile.Profile) ai.EmbeddingService {
	if !p.IsAIEnabled() {
		return nil
	}
	cfg := ai.NewConfigFromProfile(p)
	if err := cfg.Validate(); err != nil {
		slog.Warn("embedding config invalid, continuing without embeddings", "error", err)
		return nil
	}
	embedder, err := ai.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		slog.Warn("embedding service unavailable, continuing without embeddings", "error", err)
		return nil
	}
	return embedder
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
