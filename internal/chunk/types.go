// Package chunk splits document text into overlapping paragraph chunks and
// defines the structured key that ties an index row back to its chunk.
package chunk

// Metadata identifies a chunk within the corpus.
type Metadata struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	// ChunkID is 0-based and sequential within a document.
	ChunkID int `json:"chunk_id"`
}

// Chunk is a contiguous slice of a document's text plus identity metadata,
// the unit of indexing and retrieval.
type Chunk struct {
	Text string `json:"text"`
	// Content is the legacy field name for Text in older chunk records.
	Content  string   `json:"content,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Key returns the chunk's structured index key.
func (c Chunk) Key() Key {
	return Key{DocID: c.Metadata.DocID, ChunkID: c.Metadata.ChunkID}
}

// Normalize returns c with Text populated from Content when Text is empty.
func (c Chunk) Normalize() Chunk {
	if c.Text == "" && c.Content != "" {
		c.Text = c.Content
	}
	return c
}

// DocumentInfo is the caller-supplied identity of the document being split.
type DocumentInfo struct {
	ID       string
	Filename string
}
