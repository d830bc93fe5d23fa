package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
)

func newReindexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from every stored document",
		Long: `Rebuild the index from every stored chunk. Use after changing the
backend, the embedding model or the TF-IDF settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			return a.withService(ctx, func(svc *rag.Service) error {
				if err := svc.Reindex(ctx); err != nil {
					return err
				}
				info, err := svc.Info(ctx)
				if err != nil {
					return err
				}
				out.Successf("Reindexed %d chunks from %d documents (%s)", info.Chunks, info.Documents, info.Embeddings)
				return nil
			})
		},
	}
}
