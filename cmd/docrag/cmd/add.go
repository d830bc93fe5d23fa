package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docrag/internal/docstore"
	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
)

// maxConcurrentReads bounds parallel file reads in add and watch.
const maxConcurrentReads = 8

// addOptions holds CLI flags for add.
type addOptions struct {
	jsonOutput bool
}

func newAddCmd(a *app) *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <file|dir>...",
		Short: "Add documents and rebuild the index",
		Long: `Add .txt and .md documents. Directories are walked recursively,
skipping hidden entries and unsupported files. Documents are stored under
their absolute path and the index is rebuilt once after all files are added.

Examples:
  docrag add report.txt
  docrag add ./docs notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd, a, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output added documents as JSON")

	return cmd
}

func runAdd(ctx context.Context, cmd *cobra.Command, a *app, args []string, opts addOptions) error {
	out := output.New(cmd.OutOrStdout())

	paths, err := collectPaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported documents found (supported: %v)", docstore.SupportedExtensions)
	}

	files, err := readFiles(ctx, paths)
	if err != nil {
		return err
	}
	slog.Info("add_started", slog.Int("files", len(files)))

	return a.withService(ctx, func(svc *rag.Service) error {
		added, addErr := svc.AddDocuments(ctx, files)

		if opts.jsonOutput {
			if added == nil {
				added = []rag.AddResult{}
			}
			if err := out.JSON(added); err != nil {
				return err
			}
		} else {
			for _, r := range added {
				out.Successf("Added %s (%s)", r.Filename, r.DocID)
			}
		}

		if addErr == nil {
			return nil
		}
		failures := unwrapJoined(addErr)
		if !opts.jsonOutput {
			for _, e := range failures {
				out.Warning(e.Error())
			}
		}
		if len(added) == 0 {
			return addErr
		}
		return fmt.Errorf("%d of %d documents could not be added", len(files)-len(added), len(files))
	})
}

// collectPaths expands args into absolute file paths. Named files are kept
// as given so the store can reject unsupported types; directories
// contribute only supported files.
func collectPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			hidden := path != abs && len(d.Name()) > 0 && d.Name()[0] == '.'
			if d.IsDir() {
				if hidden {
					return filepath.SkipDir
				}
				return nil
			}
			if !hidden && docstore.IsSupported(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

// readFiles reads paths concurrently, preserving order.
func readFiles(ctx context.Context, paths []string) ([]rag.File, error) {
	files := make([]rag.File, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			files[i] = rag.File{Name: path, Content: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// unwrapJoined flattens an errors.Join result.
func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
