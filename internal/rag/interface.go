// Package rag defines the vector-side interfaces of the pipeline: embedding
// text into vectors and storing, searching and pruning chunk points.
// Concrete backends (Qdrant, OpenAI, Ollama) satisfy these interfaces so the
// ingestion and query layers never depend on a specific provider.
package rag

import (
	"context"
)

// Chunk is the payload stored alongside each vector point.
type Chunk struct {
	// ID is the point ID, a deterministic UUID string.
	ID string

	// DocumentID identifies the source document the chunk came from.
	DocumentID string

	// Title is the document title at ingestion time.
	Title string

	// Page is the 1-based page number the chunk was cut from.
	Page int

	// Ordinal is the chunk's 0-based position within its document.
	Ordinal int

	// Text is the chunk text.
	Text string

	// Tags are the document's tags at ingestion time, used for filtered search.
	Tags []string

	// URL is a link back to the document in the source system, if known.
	URL string
}

// Scored is a chunk returned from a similarity search.
type Scored struct {
	Chunk

	// Score is the cosine similarity assigned by the search (higher is better).
	Score float32
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of chunks with their pre-computed
	// embeddings. vectors must be parallel to chunks.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Search returns the topK most similar chunks for the query vector.
	// When tags is non-empty, only chunks carrying at least one of the
	// tags are considered.
	Search(ctx context.Context, vector []float32, topK int, tags []string) ([]Scored, error)

	// DeletePoints removes individual points by ID.
	DeletePoints(ctx context.Context, ids []string) error

	// DeleteByDocument removes every point belonging to the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count returns the exact number of points in the collection.
	Count(ctx context.Context) (uint64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID identifies the embedding model, e.g. "openai/text-embedding-3-small".
	// Vectors from different model IDs are never mixed in one collection.
	ModelID() string

	// Dimensions is the vector length the model produces.
	Dimensions() int
}
