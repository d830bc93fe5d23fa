package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/index"
	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK   int
	format string // "text", "json"
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Retrieve the passages most relevant to a question",
		Long: `Retrieve the passages most relevant to a question by cosine
similarity. When nothing passes the score threshold a lower threshold is
tried, and failing that the best top-k passages are returned regardless of
score.

Examples:
  docrag search "what is the capital of France"
  docrag search "population growth" -k 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, a, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of passages to return (default search.top_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, a *app, question string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	topK := opts.topK
	if topK <= 0 {
		topK = a.cfg.Search.TopK
	}

	slog.Info("search_started", slog.String("query", question), slog.Int("top_k", topK))
	out := output.New(cmd.OutOrStdout())

	return a.withService(ctx, func(svc *rag.Service) error {
		results, err := svc.Retrieve(ctx, question, topK)
		if err != nil {
			return err
		}
		return out.Hits(toHits(results), format)
	})
}

func toHits(results []index.Result) []output.Hit {
	hits := make([]output.Hit, 0, len(results))
	for i, r := range results {
		hits = append(hits, output.Hit{
			Rank:     i + 1,
			Score:    r.Score,
			DocID:    r.Metadata.DocID,
			Filename: r.Metadata.Filename,
			ChunkID:  r.Metadata.ChunkID,
			Degraded: r.Degraded,
			Text:     r.Text,
		})
	}
	return hits
}
