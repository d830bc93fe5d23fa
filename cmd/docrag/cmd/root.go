// Package cmd provides the CLI commands for docrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docrag/internal/config"
	docerrors "github.com/Aman-CERP/docrag/internal/errors"
	"github.com/Aman-CERP/docrag/internal/logging"
	"github.com/Aman-CERP/docrag/internal/profiling"
	"github.com/Aman-CERP/docrag/internal/rag"
	"github.com/Aman-CERP/docrag/pkg/version"
)

// annotationStandalone marks commands that need neither config nor logging.
const annotationStandalone = "docrag/standalone"

// rootOptions holds the persistent flags.
type rootOptions struct {
	debug   bool
	dataDir string
	backend string
	profile profiling.Options
}

// app is the state shared by the commands of one root command.
type app struct {
	opts           rootOptions
	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the docrag CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docrag",
		Short: "Retrieve relevant passages from your documents",
		Long: `docrag chunks text documents, indexes them with sentence embeddings
(or TF-IDF when no embedding model is available) and returns the passages
most relevant to a question.

Examples:
  docrag add notes/*.md report.txt
  docrag search "what is the capital of France"
  docrag watch ./docs`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	cmd.SetVersionTemplate("docrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&a.opts.debug, "debug", false, "Enable debug logging to stderr and ~/.docrag/logs/")
	cmd.PersistentFlags().StringVar(&a.opts.dataDir, "data-dir", "", "Directory for the document store and index (overrides storage.data_dir)")
	cmd.PersistentFlags().StringVar(&a.opts.backend, "backend", "", "Embedding backend: dense or sparse (overrides index.backend)")
	cmd.PersistentFlags().StringVar(&a.opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&a.opts.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&a.opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newAddCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newReindexCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration for the working directory, applies flag
// overrides and installs the default logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationStandalone] == "true" {
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return docerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Check .docrag.yaml and DOCRAG_* environment variables")
	}

	if a.opts.dataDir != "" {
		cfg.Storage.DataDir = a.opts.dataDir
	}
	if a.opts.backend != "" {
		cfg.Index.Backend = strings.ToLower(a.opts.backend)
	}
	if err := cfg.Validate(); err != nil {
		return docerrors.ConfigError("invalid configuration", err)
	}
	a.cfg = cfg

	logger, cleanup, err := logging.Setup(logging.ForCLI(cfg.Logging.Level, cfg.Logging.FilePath, a.opts.debug))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if a.opts.profile.Enabled() {
		a.profiler, err = profiling.Start(a.opts.profile)
		if err != nil {
			return err
		}
	}

	slog.Debug("config_loaded",
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("backend", cfg.Index.Backend),
		slog.String("command", cmd.Name()))
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	a.close()
	return nil
}

// close stops profiling and flushes the log file. Safe to call more than
// once.
func (a *app) close() {
	if a.profiler != nil {
		if err := a.profiler.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		a.profiler = nil
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
}

// withService opens the service for the loaded config, loads or rebuilds
// the index, runs fn and closes the service.
func (a *app) withService(ctx context.Context, fn func(*rag.Service) error) error {
	svc, err := rag.Open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("service_close_failed", slog.String("error", err.Error()))
		}
	}()

	if err := svc.Init(ctx); err != nil {
		return err
	}
	return fn(svc)
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM, and prints
// a failing command's error to stderr.
func Execute() error {
	a := &app{}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	if err != nil {
		slog.Error("command_failed", docerrors.LogAttrs(err)...)
		_, _ = fmt.Fprint(root.ErrOrStderr(), docerrors.FormatForCLI(err))
	}
	return err
}
