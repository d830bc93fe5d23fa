package docstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docrag/internal/chunk"
	docerrors "github.com/Aman-CERP/docrag/internal/errors"
)

func openMemory(t *testing.T, opts ...chunk.Option) *Store {
	t.Helper()
	s, err := Open("", chunk.NewChunker(opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("notes.txt"))
	assert.True(t, IsSupported("README.MD"))
	assert.False(t, IsSupported("report.pdf"))
	assert.False(t, IsSupported("Makefile"))
}

func TestStore_Add_StoresChunks(t *testing.T) {
	// Given: a store with a small chunk size
	ctx := context.Background()
	s := openMemory(t, chunk.WithChunkSize(20), chunk.WithOverlap(0))

	// When: adding a three-paragraph document
	id, err := s.Add(ctx, "notes.md", []byte("first paragraph\nsecond paragraph\nthird one"))
	require.NoError(t, err)

	// Then: the id is a uuid and chunks are numbered from 0
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	chunks, err := s.Chunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, id, c.Metadata.DocID)
		assert.Equal(t, "notes.md", c.Metadata.Filename)
		assert.Equal(t, i, c.Metadata.ChunkID)
	}
	assert.Equal(t, "first paragraph", chunks[0].Text)
}

func TestStore_Add_ShortDocumentIsOneChunk(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	id, err := s.Add(ctx, "a.txt", []byte("Paris is the capital of France."))
	require.NoError(t, err)

	chunks, err := s.Chunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Metadata.ChunkID)
}

func TestStore_Add_RejectsUnsupportedType(t *testing.T) {
	s := openMemory(t)

	_, err := s.Add(context.Background(), "scan.pdf", []byte("%PDF-1.7"))

	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeUnsupportedType, docerrors.GetCode(err))
}

func TestStore_Add_RejectsInvalidUTF8(t *testing.T) {
	s := openMemory(t)

	_, err := s.Add(context.Background(), "bin.txt", []byte{0xff, 0xfe, 0x00})

	assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
}

func TestStore_AllChunks_InInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	first, err := s.Add(ctx, "a.txt", []byte("alpha"))
	require.NoError(t, err)
	second, err := s.Add(ctx, "b.txt", []byte("bravo"))
	require.NoError(t, err)

	all, err := s.AllChunks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].Metadata.DocID)
	assert.Equal(t, second, all[1].Metadata.DocID)
}

func TestStore_StatsAndDocuments(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, chunk.WithChunkSize(10), chunk.WithOverlap(0))

	_, err := s.Add(ctx, "a.txt", []byte("one\ntwo two two\nthree"))
	require.NoError(t, err)
	_, err = s.Add(ctx, "b.md", []byte("short"))
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Documents)

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Filename)
	assert.Equal(t, ".txt", docs[0].Extension)
	assert.Equal(t, "b.md", docs[1].Filename)
	assert.Equal(t, 1, docs[1].Chunks)
	assert.Equal(t, st.Chunks, docs[0].Chunks+docs[1].Chunks)
	assert.False(t, docs[0].CreatedAt.IsZero())
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	id, err := s.Add(ctx, "a.txt", []byte("alpha"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	chunks, err := s.Chunks(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// Given: a document written to an on-disk store
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "docrag.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	id, err := s.Add(ctx, "a.txt", []byte(strings.Repeat("word ", 10)))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	// When: reopening
	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	// Then: the chunks are still there
	chunks, err := reopened.Chunks(ctx, id)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestStore_ClosedRejectsCalls(t *testing.T) {
	s, err := Open("", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.AllChunks(context.Background())
	assert.Error(t, err)
	_, err = s.Add(context.Background(), "a.txt", []byte("x"))
	assert.Error(t, err)
}
