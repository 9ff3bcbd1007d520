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

	"github.com/oasisdevteambal/regula/internal/chunker"
	"github.com/oasisdevteambal/regula/internal/config"
	"github.com/oasisdevteambal/regula/internal/docstore"
	"github.com/oasisdevteambal/regula/internal/embed"
	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/index"
	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/pipeline"
	"github.com/oasisdevteambal/regula/internal/quality"
	"github.com/oasisdevteambal/regula/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "regula",
		Short: "Extract and search structured rules from regulatory documents",
		Long: "regula ingests regulatory documents (tax codes, filing instructions, " +
			"statutes), splits them into structure-aware chunks, extracts structured " +
			"rules from each chunk with Claude, scores extraction quality, and indexes " +
			"the results for semantic search.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newIngestCmd(),
		newProcessCmd(),
		newDocsCmd(),
		newChunksCmd(),
		newRulesCmd(),
		newReviewCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newDeleteCmd(),
	)

	return root
}

// app bundles a fully wired engine with the pieces the commands need
// beyond it. Commands are one-shot: construct, act, close.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	usage  *extract.UsageStats
	claude *extract.ClaudeClient
	engine *pipeline.Engine
}

func newApp(ctx context.Context) (*app, error) {
	// Logs go to stderr as JSON; stdout carries command output only.
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.FromEnv(ctx, cfg.StoreDriver, cfg.SQLitePath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	embedder, err := embed.FromEnv(ctx, cfg.EmbedProvider, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.OllamaURL, cfg.OllamaEmbedModel)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init embeddings: %w", err)
	}
	idx, err := index.FromEnv(ctx, cfg.IndexDriver, cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection, cfg.EmbedDimension)
	if err != nil {
		embedder.Close()
		st.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}
	docs, err := docstore.New(docstore.Config{
		Type:       docstore.Type(cfg.StorageType),
		LocalPath:  cfg.LocalStoragePath,
		S3Bucket:   cfg.S3Bucket,
		S3Region:   cfg.S3Region,
		S3Endpoint: cfg.S3Endpoint,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
	})
	if err != nil {
		idx.Close()
		embedder.Close()
		st.Close()
		return nil, fmt.Errorf("init document storage: %w", err)
	}

	usage := extract.NewUsageStats(time.Hour)
	claude := extract.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, usage)

	engine := pipeline.NewEngine(st, docs, claude, embedder, idx, log, pipeline.EngineConfig{
		Chunker: chunker.Config{
			Budgets: chunker.Budgets{
				Body:    cfg.BodyBudget,
				Table:   cfg.TableBudget,
				Formula: cfg.FormulaBudget,
				List:    cfg.ListBudget,
				Header:  cfg.HeaderBudget,
			},
			Overlap: chunker.OverlapWords{
				Body:    cfg.BodyOverlap,
				Table:   cfg.TableOverlap,
				Formula: cfg.FormulaOverlap,
				List:    cfg.ListOverlap,
				Header:  cfg.HeaderOverlap,
			},
			Keywords: model.DefaultKeywords(),
		},
		Scheduler: pipeline.SchedulerConfig{
			Retry: pipeline.RetryPolicy{
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.RetryBaseDelay,
			},
			BatchWidth:     cfg.BatchWidth,
			BatchPause:     cfg.BatchPause,
			ExtractTimeout: cfg.ExtractTimeout,
		},
		Quality: quality.Config{
			Weights:   quality.DefaultWeights(),
			Threshold: cfg.QualityThreshold,
			Keywords:  model.DefaultKeywords(),
		},
		RunTTL:       cfg.RunTTL,
		MaxExpansion: cfg.SearchMaxExpansion,
	})

	return &app{cfg: cfg, log: log, usage: usage, claude: claude, engine: engine}, nil
}

func (a *app) Close() {
	a.claude.Close()
	if err := a.engine.Close(); err != nil {
		a.log.Warn("close engine", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
