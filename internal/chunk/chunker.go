package chunk

import (
	"strings"
	"unicode/utf8"
)

// Defaults used when no option overrides them.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text on paragraph boundaries into chunks of at most
// roughly chunkSize characters, carrying up to overlap characters of
// trailing paragraphs into the next chunk.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target maximum characters per chunk.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlap sets the maximum characters carried into the next chunk.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// NewChunker creates a Chunker.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split divides text into chunks that all carry doc's identity.
//
// Sizes are counted in characters. Each paragraph costs its length plus one
// for the joining newline. Text that already fits in one chunk is returned
// whole as chunk 0.
func (c *Chunker) Split(text string, doc DocumentInfo) []Chunk {
	if runeLen(text) <= c.chunkSize {
		return []Chunk{c.newChunk(text, doc, 0)}
	}

	var (
		chunks  []Chunk
		current []string
		size    int
	)

	for _, p := range strings.Split(text, "\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		plen := runeLen(p)

		if size+plen > c.chunkSize && len(current) > 0 {
			chunks = append(chunks, c.newChunk(strings.Join(current, "\n"), doc, len(chunks)))
			current = c.overlapSeed(current)
			size = 0
			for _, kept := range current {
				size += runeLen(kept) + 1
			}
		}

		current = append(current, p)
		size += plen + 1
	}

	if len(current) > 0 {
		chunks = append(chunks, c.newChunk(strings.Join(current, "\n"), doc, len(chunks)))
	}
	return chunks
}

// overlapSeed walks paragraphs from the end and keeps them while the
// carried characters stay within the overlap budget. It stops at the
// first paragraph that does not fit.
func (c *Chunker) overlapSeed(paragraphs []string) []string {
	kept := 0
	start := len(paragraphs)
	for i := len(paragraphs) - 1; i >= 0; i-- {
		plen := runeLen(paragraphs[i])
		if kept+plen > c.overlap {
			break
		}
		kept += plen + 1
		start = i
	}

	seed := make([]string, len(paragraphs)-start)
	copy(seed, paragraphs[start:])
	return seed
}

func (c *Chunker) newChunk(text string, doc DocumentInfo, id int) Chunk {
	return Chunk{
		Text: text,
		Metadata: Metadata{
			DocID:    doc.ID,
			Filename: doc.Filename,
			ChunkID:  id,
		},
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
