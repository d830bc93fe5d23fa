package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docrag/internal/config"
	"github.com/Aman-CERP/docrag/internal/output"
	"github.com/Aman-CERP/docrag/internal/rag"
	"github.com/Aman-CERP/docrag/internal/watcher"
)

func openSparseService(t *testing.T) *rag.Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Index.Backend = config.BackendSparse

	svc, err := rag.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Init(context.Background()))
	return svc
}

func filenames(t *testing.T, svc *rag.Service) []string {
	t.Helper()
	docs, err := svc.Documents(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Filename)
	}
	return names
}

func TestApplyBatch_CreateModifyDelete(t *testing.T) {
	// Given: a service and a directory with one file
	ctx := context.Background()
	svc := openSparseService(t)
	dir := t.TempDir()
	paris := filepath.Join(dir, "paris.md")
	require.NoError(t, os.WriteFile(paris, []byte(parisDoc), 0o644))
	buf := new(bytes.Buffer)
	out := output.New(buf)

	// When: the file is created
	applyBatch(ctx, svc, out, []watcher.FileEvent{{Path: paris, Operation: watcher.OpCreate, Timestamp: time.Now()}})

	// Then: it is stored and reported
	assert.Equal(t, []string{paris}, filenames(t, svc))
	assert.Contains(t, buf.String(), "Indexed "+paris)

	// When: it is modified twice
	require.NoError(t, os.WriteFile(paris, []byte("Paris is the capital of France."), 0o644))
	applyBatch(ctx, svc, out, []watcher.FileEvent{{Path: paris, Operation: watcher.OpModify}})
	applyBatch(ctx, svc, out, []watcher.FileEvent{{Path: paris, Operation: watcher.OpModify}})

	// Then: there is still exactly one document for it
	assert.Equal(t, []string{paris}, filenames(t, svc))

	// When: it is deleted
	require.NoError(t, os.Remove(paris))
	applyBatch(ctx, svc, out, []watcher.FileEvent{{Path: paris, Operation: watcher.OpDelete}})

	// Then: the document is gone
	assert.Empty(t, filenames(t, svc))
	assert.Contains(t, buf.String(), "Removed "+paris)
}

func TestApplyBatch_VanishedFileCountsAsDeleted(t *testing.T) {
	// Given: a stored document whose file no longer exists
	ctx := context.Background()
	svc := openSparseService(t)
	path := filepath.Join(t.TempDir(), "gone.txt")
	_, err := svc.AddDocument(ctx, path, []byte(berlinDoc))
	require.NoError(t, err)

	// When: a modify event arrives for it
	applyBatch(ctx, svc, output.New(new(bytes.Buffer)), []watcher.FileEvent{{Path: path, Operation: watcher.OpModify}})

	// Then: it is dropped from the store
	assert.Empty(t, filenames(t, svc))
}

func TestMatchingFiles_FiltersExtensionsAndHidden(t *testing.T) {
	// Given: a tree with supported, unsupported and hidden files
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.MD", "c.pdf", ".hidden.txt", "sub/d.md", ".git/e.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	// When: listing with the default extensions
	paths, err := matchingFiles(dir, []string{".txt", ".md"})
	require.NoError(t, err)

	// Then: only visible .txt/.md files are returned
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.MD"),
		filepath.Join(dir, "sub", "d.md"),
	}, paths)
}

func TestCollectPaths_KeepsNamedFilesAndWalksDirs(t *testing.T) {
	// Given: a named unsupported file and a directory
	dir := t.TempDir()
	for _, name := range []string{"x.pdf", "docs/a.txt", "docs/b.pdf", "docs/.cache/c.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	// When: collecting
	paths, err := collectPaths([]string{filepath.Join(dir, "x.pdf"), filepath.Join(dir, "docs")})
	require.NoError(t, err)

	// Then: the named file is kept and the directory contributes supported files only
	assert.Equal(t, []string{filepath.Join(dir, "x.pdf"), filepath.Join(dir, "docs", "a.txt")}, paths)
}

func TestReadFiles_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := range 20 {
		path := filepath.Join(dir, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(path, []byte(path), 0o644))
		paths = append(paths, path)
	}

	files, err := readFiles(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, files, len(paths))
	for i, f := range files {
		assert.Equal(t, paths[i], f.Name)
		assert.Equal(t, paths[i], string(f.Content))
	}
}
