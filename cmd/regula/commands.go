package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/pipeline"
)

func newIngestCmd() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Register documents for rule extraction",
		Long: "Store one or more regulatory documents and register them for processing. " +
			"Files whose content is already known are reported as duplicates and not " +
			"stored twice.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				doc, duplicate, err := a.engine.Ingest(cmd.Context(), filepath.Base(path), data)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				out := struct {
					Document  *model.Document `json:"document"`
					Duplicate bool            `json:"duplicate"`
				}{doc, duplicate}
				if err := printJSON(out); err != nil {
					return err
				}
				if process {
					if err := processAndPrint(cmd.Context(), a, doc.ID); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&process, "process", "p", false, "Run the extraction pipeline immediately after ingesting")

	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>",
		Short: "Run the extraction pipeline for an ingested document",
		Long: "Chunk the document, extract rules from each chunk, score extraction " +
			"quality, and index the accepted rules. Safe to re-run: chunks that " +
			"already settled are counted, not re-extracted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return processAndPrint(cmd.Context(), a, args[0])
		},
	}
}

func processAndPrint(ctx context.Context, a *app, documentID string) error {
	result, err := a.engine.ProcessDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("process %s: %w", documentID, err)
	}

	out := struct {
		Result *model.ProcessingResult `json:"result"`
		Run    *pipeline.RunSnapshot   `json:"run,omitempty"`
		Usage  extract.UsageSnapshot   `json:"usage"`
	}{Result: result, Usage: a.usage.Snapshot()}
	if snap, ok := a.engine.RunStatus(documentID); ok {
		out.Run = &snap
	}
	return printJSON(out)
}

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.engine.Documents(cmd.Context())
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []model.Document{}
			}
			return printJSON(docs)
		},
	}
}

func newChunksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <document-id>",
		Short: "List a document's chunks with their processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			chunks, err := a.engine.GetChunks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if chunks == nil {
				chunks = []model.DocumentChunk{}
			}
			return printJSON(chunks)
		},
	}
}

func newRulesCmd() *cobra.Command {
	var chunkID string

	cmd := &cobra.Command{
		Use:   "rules <document-id>",
		Short: "List the rules extracted from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var rules []model.ExtractedRule
			if chunkID != "" {
				rules, err = a.engine.Rules(cmd.Context(), chunkID)
			} else {
				rules, err = a.engine.DocumentRules(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			if rules == nil {
				rules = []model.ExtractedRule{}
			}
			return printJSON(rules)
		},
	}

	cmd.Flags().StringVar(&chunkID, "chunk", "", "Only rules extracted from this chunk")

	return cmd
}

func newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List chunks parked for manual review, across all documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			chunks, err := a.engine.ReviewQueue(cmd.Context())
			if err != nil {
				return err
			}
			if chunks == nil {
				chunks = []model.DocumentChunk{}
			}
			return printJSON(chunks)
		},
	}
}

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search indexed rules by meaning",
		Long: "Embed the query and return the closest chunks, each expanded with its " +
			"sequence neighbors so rules that span chunk boundaries come back whole.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.cfg.SearchLimit
			}
			hits, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if hits == nil {
				hits = []model.RankedChunk{}
			}
			return printJSON(hits)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of chunks to return (default SEARCH_LIMIT)")

	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [document-id]",
		Short: "Summarize extraction effort, for one document or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var documentID string
			if len(args) == 1 {
				documentID = args[0]
			}
			summary, err := a.engine.Stats(cmd.Context(), documentID)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and everything derived from it",
		Long: "Remove the document's rules from the vector index, its stored source " +
			"file, and finally its chunks, rules, and registry row. Any run in " +
			"flight for the document is cancelled first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			out := struct {
				Deleted string `json:"deleted"`
			}{args[0]}
			return printJSON(out)
		},
	}
}
