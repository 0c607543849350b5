// Package query implements query-time retrieval: embed the question, search
// the vector store, and select the chunks that fit the context token budget.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/docqa-dev/docqa-go/internal/rag"
)

// retrieveTimeout bounds the embed-and-search round trip so the read path
// never blocks indefinitely.
const retrieveTimeout = 30 * time.Second

// Codec counts tokens for the context budget. tokens.Codec satisfies it.
type Codec interface {
	Count(text string) int
}

// Config holds retrieval defaults.
type Config struct {
	// TopK is the default number of candidates fetched per query.
	TopK int
	// ScoreFloor drops candidates scoring below it. Zero keeps everything.
	ScoreFloor float32
	// MaxContextTokens is the token budget for the selected chunks.
	MaxContextTokens int
}

// Options are per-query overrides.
type Options struct {
	// TopK overrides the configured candidate count when positive.
	TopK int
	// Tags restricts the search to chunks carrying at least one of the tags.
	Tags []string
}

// Engine retrieves the chunks most relevant to a question. It is safe for
// concurrent use.
type Engine struct {
	embedder rag.Embedder
	store    rag.VectorStore
	codec    Codec
	cfg      Config
}

// New constructs an Engine.
func New(cfg Config, embedder rag.Embedder, store rag.VectorStore, codec Codec) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 6
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 2500
	}
	return &Engine{embedder: embedder, store: store, codec: codec, cfg: cfg}
}

// Retrieve embeds the question, fetches the top candidates, and returns the
// prefix that passes the score floor and fits the context token budget, in
// descending score order. An empty result means the index has nothing
// relevant.
func (e *Engine) Retrieve(ctx context.Context, question string, opts Options) ([]rag.Scored, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	ctx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("query: embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("query: expected 1 vector, got %d", len(vectors))
	}

	candidates, err := e.store.Search(ctx, vectors[0], topK, opts.Tags)
	if err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}

	return e.selectWithinBudget(candidates), nil
}

// selectWithinBudget walks the candidates in score order, dropping everything
// below the score floor and stopping at the first chunk that would overflow
// the token budget. Taking the budget as a prefix keeps the highest-scoring
// chunks.
func (e *Engine) selectWithinBudget(candidates []rag.Scored) []rag.Scored {
	var selected []rag.Scored
	used := 0
	for _, c := range candidates {
		if c.Score < e.cfg.ScoreFloor {
			continue
		}
		cost := e.codec.Count(c.Text)
		if used+cost > e.cfg.MaxContextTokens {
			break
		}
		selected = append(selected, c)
		used += cost
	}
	return selected
}
