package chunk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedKey is returned by ParseKey for strings that do not decode
// into exactly a doc id and a chunk id.
var ErrMalformedKey = errors.New("malformed chunk key")

// Key is the composite identity (doc_id, chunk_id) of an indexed chunk.
type Key struct {
	DocID   string
	ChunkID int
}

// String encodes the key as "<len(doc_id)>:<doc_id>_<chunk_id>".
// The length prefix makes the encoding unambiguous for any doc id.
func (k Key) String() string {
	return strconv.Itoa(len(k.DocID)) + ":" + k.DocID + "_" + strconv.Itoa(k.ChunkID)
}

// ParseKey decodes a string produced by Key.String.
func ParseKey(s string) (Key, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}

	n, err := strconv.Atoi(s[:colon])
	if err != nil || n < 0 || s[0] == '+' || s[0] == '-' {
		return Key{}, fmt.Errorf("%w: %q: bad length prefix", ErrMalformedKey, s)
	}

	rest := s[colon+1:]
	if n > len(rest)-2 || rest[n] != '_' {
		return Key{}, fmt.Errorf("%w: %q: length prefix does not match", ErrMalformedKey, s)
	}

	idPart := rest[n+1:]
	if idPart[0] == '+' || idPart[0] == '-' {
		return Key{}, fmt.Errorf("%w: %q: bad chunk id", ErrMalformedKey, s)
	}
	chunkID, err := strconv.Atoi(idPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: bad chunk id", ErrMalformedKey, s)
	}

	return Key{DocID: rest[:n], ChunkID: chunkID}, nil
}
