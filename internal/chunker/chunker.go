// Package chunker splits extracted page text into overlapping token windows
// sized for embedding. Chunk identity is deterministic: re-chunking unchanged
// content yields byte-identical chunks with identical IDs, which is what makes
// ingestion idempotent.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/docqa-dev/docqa-go/internal/extract"
	"github.com/docqa-dev/docqa-go/internal/tokens"
)

// chunkNamespace seeds version-5 chunk UUIDs. Changing it would re-identify
// every chunk in the index, so it is fixed for the life of the collection.
var chunkNamespace = uuid.MustParse("7d012c74-38a1-4a40-9d58-b1f0d4f8c3a2")

// Chunk is one embeddable window of document text.
type Chunk struct {
	// ID is the deterministic UUID derived from document, ordinal and
	// content hash. It doubles as the vector point ID.
	ID string
	// DocumentID is the source document this chunk belongs to.
	DocumentID string
	// Ordinal is the 0-based position of the chunk within the document.
	Ordinal int
	// Page is the 1-based page the window was cut from. Windows never
	// span pages.
	Page int
	// Text is the decoded window text.
	Text string
	// Hash is the hex SHA-256 of Text.
	Hash string
	// TokenCount is the number of tokens in the window.
	TokenCount int
}

// Chunker cuts page text into token windows of size T with overlap O,
// advancing by T-O tokens per window.
type Chunker struct {
	codec   tokens.Codec
	size    int
	overlap int
}

// New returns a Chunker. size must be positive and overlap must satisfy
// 0 <= overlap < size, otherwise the window step would not advance.
func New(codec tokens.Codec, size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: window size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{codec: codec, size: size, overlap: overlap}, nil
}

// Split cuts the document's pages into chunks. Ordinals are assigned in page
// order and are strictly monotone across the whole document. Empty pages
// produce no chunks.
func (c *Chunker) Split(documentID string, pages []extract.Page) []Chunk {
	var chunks []Chunk
	ordinal := 0
	step := c.size - c.overlap

	for _, page := range pages {
		ids := c.codec.Encode(page.Text)
		for start := 0; start < len(ids); start += step {
			end := start + c.size
			if end > len(ids) {
				end = len(ids)
			}
			window := ids[start:end]
			text := c.codec.Decode(window)
			chunks = append(chunks, newChunk(documentID, ordinal, page.Number, text, len(window)))
			ordinal++
			if end == len(ids) {
				break
			}
		}
	}

	return chunks
}

// DocumentHash folds the chunk sequence into a single content hash. Two
// documents hash equal exactly when their chunk sequences are identical in
// order, pages and text.
func DocumentHash(chunks []Chunk) string {
	h := sha256.New()
	for _, chunk := range chunks {
		fmt.Fprintf(h, "%d:%d:%s\n", chunk.Ordinal, chunk.Page, chunk.Hash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func newChunk(documentID string, ordinal, page int, text string, tokenCount int) Chunk {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d:%s", documentID, ordinal, hash)))
	return Chunk{
		ID:         id.String(),
		DocumentID: documentID,
		Ordinal:    ordinal,
		Page:       page,
		Text:       text,
		Hash:       hash,
		TokenCount: tokenCount,
	}
}
