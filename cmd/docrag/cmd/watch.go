package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
	"github.com/Aman-CERP/docrag/internal/watcher"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	initialSync bool
}

func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep the index in step with a directory",
		Long: `Watch a directory (default: the current one) and re-add documents
that are created or modified, dropping those that are deleted. Changes are
debounced (watch.debounce) and the index is rebuilt once per batch.

Documents are stored under their absolute path, so a file added earlier
with 'docrag add' is replaced rather than duplicated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(cmd.Context(), cmd, a, dir, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.initialSync, "sync", true, "Sync every matching file in the directory before watching")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app, dir string, opts watchOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	w, err := watcher.New(watcher.Options{
		Extensions:     a.cfg.Watch.Extensions,
		DebounceWindow: a.cfg.WatchDebounce(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	return a.withService(ctx, func(svc *rag.Service) error {
		if opts.initialSync {
			paths, err := matchingFiles(root, a.cfg.Watch.Extensions)
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				files, err := readFiles(ctx, paths)
				if err != nil {
					return err
				}
				added, err := svc.SyncFiles(ctx, files, nil)
				if err != nil {
					out.Warning(err.Error())
				}
				out.Successf("Synced %d documents from %s", len(added), root)
			}
		}

		errCh := make(chan error, 1)
		go func() { errCh <- w.Start(ctx, root) }()
		out.Statusf("👀", "Watching %s (Ctrl+C to stop)", root)

		events, watchErrs := w.Events(), w.Errors()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				if err == nil || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case err, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
					continue
				}
				slog.Warn("watch_error", slog.String("error", err.Error()))
				out.Warning(err.Error())
			case batch, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				applyBatch(ctx, svc, out, batch)
			}
		}
	})
}

// applyBatch reads created and modified files and syncs them, together
// with deletions, into the service. A file that vanished before it could
// be read counts as deleted.
func applyBatch(ctx context.Context, svc *rag.Service, out *output.Writer, batch []watcher.FileEvent) {
	var (
		changed []rag.File
		removed []string
	)
	for _, ev := range batch {
		if ev.Operation == watcher.OpDelete {
			removed = append(removed, ev.Path)
			continue
		}
		data, err := os.ReadFile(ev.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				removed = append(removed, ev.Path)
				continue
			}
			out.Warningf("read %s: %v", ev.Path, err)
			continue
		}
		changed = append(changed, rag.File{Name: ev.Path, Content: data})
	}
	if len(changed) == 0 && len(removed) == 0 {
		return
	}

	added, err := svc.SyncFiles(ctx, changed, removed)
	for _, r := range added {
		out.Successf("Indexed %s", r.Filename)
	}
	for _, path := range removed {
		out.Statusf("🗑", "Removed %s", path)
	}
	if err != nil {
		slog.Warn("watch_sync_failed", slog.String("error", err.Error()))
		out.Warning(err.Error())
	}
}

// matchingFiles lists files under root with one of exts, skipping hidden
// entries.
func matchingFiles(root string, exts []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(exts) == 0 || slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}
