package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/docstore"
	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
)

func newListCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			return a.withService(ctx, func(svc *rag.Service) error {
				docs, err := svc.Documents(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					if docs == nil {
						docs = []docstore.Document{}
					}
					return out.JSON(docs)
				}
				if len(docs) == 0 {
					out.Status("📭", "No documents. Add some with 'docrag add'.")
					return nil
				}
				rows := make([][2]string, 0, len(docs))
				for _, d := range docs {
					rows = append(rows, [2]string{d.ID, fmt.Sprintf("%s (%d chunks)", d.Filename, d.Chunks)})
				}
				out.Table(rows)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a document and rebuild the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			return a.withService(ctx, func(svc *rag.Service) error {
				if err := svc.DeleteDocument(ctx, args[0]); err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				out.Successf("Deleted %s", args[0])
				return nil
			})
		},
	}
}
