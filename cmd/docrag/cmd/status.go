package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
)

// statusInfo is the JSON form of `docrag status`.
type statusInfo struct {
	DataDir string `json:"data_dir"`
	Backend string `json:"backend"`
	rag.Info
}

func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document and index status",
		Long: `Display the number of stored documents and chunks, the embedding
backend serving the index and whether it is degraded to TF-IDF.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, a, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, a *app, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	return a.withService(ctx, func(svc *rag.Service) error {
		info, err := svc.Info(ctx)
		if err != nil {
			return err
		}

		status := statusInfo{DataDir: a.cfg.Storage.DataDir, Backend: a.cfg.Index.Backend, Info: info}
		if jsonOutput {
			return out.JSON(status)
		}

		embeddings := string(info.Embeddings)
		if info.Degraded {
			embeddings += " (degraded: " + a.cfg.Index.Backend + " unavailable)"
		}
		out.Status("📚", "docrag status")
		out.Table([][2]string{
			{"Data dir", status.DataDir},
			{"Documents", strconv.Itoa(info.Documents)},
			{"Chunks", strconv.Itoa(info.Chunks)},
			{"Embeddings", embeddings},
			{"Index rows", strconv.Itoa(info.IndexRows)},
			{"Index loaded", strconv.FormatBool(info.Loaded)},
		})
		return nil
	})
}
