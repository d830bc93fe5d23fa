package embed

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// Artifact file names inside a backend namespace (<root>/sparse, <root>/dense).
const (
	vectorizerFile    = "vectorizer.gob"
	sparseVectorsFile = "vectors.gob"
	denseModelFile    = "model.gob"
	denseVectorsFile  = "vectors.hnsw"
	keysFile          = "keys.gob"
)

// writeAtomic writes path through a fsynced temp file and rename so a
// reader never sees a half-written artifact.
func writeAtomic(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	pending, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = pending.Cleanup() }()

	bw := bufio.NewWriter(pending)
	if err := write(bw); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeGob(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(v)
	})
}

func readGob(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// firstMissing returns the first path that does not exist, or "".
func firstMissing(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
	}
	return ""
}

func logCorrupt(kind Kind, path string, err error) {
	slog.Warn("index_artifact_corrupt",
		slog.String("backend", string(kind)),
		slog.String("path", path),
		slog.String("error", err.Error()))
}
