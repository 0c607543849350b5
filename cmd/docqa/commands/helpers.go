package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-dev/docqa-go/internal/answer"
	"github.com/docqa-dev/docqa-go/internal/embedder"
	"github.com/docqa-dev/docqa-go/internal/ingest"
	"github.com/docqa-dev/docqa-go/internal/query"
	"github.com/docqa-dev/docqa-go/internal/rag"
	"github.com/docqa-dev/docqa-go/internal/source"
	"github.com/docqa-dev/docqa-go/internal/state"
	"github.com/docqa-dev/docqa-go/internal/tokens"
)

// pipeline bundles the shared components behind every command: source client,
// embedder, vector store, state store, tokenizer, and the ingestion
// orchestrator wired from them.
type pipeline struct {
	source   *source.Client
	embedder rag.Embedder
	store    *rag.QdrantStore
	state    *state.Store
	codec    tokens.Codec
	orch     *ingest.Orchestrator
}

// Close releases the pipeline's long-lived connections.
func (p *pipeline) Close() {
	_ = p.state.Close()
	_ = p.store.Close()
}

// buildPipeline constructs the full ingestion/query pipeline from env vars.
// It validates the embedding configuration and refuses to start when the
// state store records a different embedding model or dimensionality than the
// one configured, since mixed-model vectors make similarity scores garbage.
func buildPipeline(ctx context.Context, log *slog.Logger, reg *prometheus.Registry) (*pipeline, error) {
	src, err := source.New(&source.Config{
		BaseURL:   os.Getenv("SOURCE_BASE_URL"),
		Token:     os.Getenv("SOURCE_API_TOKEN"),
		RateLimit: getEnvFloat("SOURCE_RATE_LIMIT", 0),
	})
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("model", emb.ModelID()),
		slog.Int("dimensions", emb.Dimensions()),
	)

	qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "docqa_chunks")

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       qdrantPort,
		Collection: collection,
		VectorSize: uint64(emb.Dimensions()), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", qdrantHost),
		slog.Int("port", qdrantPort),
		slog.String("collection", collection),
	)

	dbPath := os.Getenv("DOCQA_STATE_DB")
	if dbPath == "" {
		dbPath, err = state.DefaultDBPath()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	st, err := state.Open(dbPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := st.VerifyEmbedding(ctx, emb.ModelID(), emb.Dimensions()); err != nil {
		_ = st.Close()
		_ = store.Close()
		return nil, err
	}
	log.Info("state store opened", slog.String("path", dbPath))

	codec, err := tokens.NewCL100K()
	if err != nil {
		_ = st.Close()
		_ = store.Close()
		return nil, err
	}

	orch, err := ingest.New(ingest.Config{
		ChunkTokens:  getEnvInt("CHUNK_TOKENS", 800),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 120),
		Workers:      getEnvInt("INGEST_WORKERS", 4),
	}, src, codec, emb, store, st, ingest.NewMetrics(reg))
	if err != nil {
		_ = st.Close()
		_ = store.Close()
		return nil, err
	}

	return &pipeline{
		source:   src,
		embedder: emb,
		store:    store,
		state:    st,
		codec:    codec,
		orch:     orch,
	}, nil
}

// buildEngine constructs the retrieval engine with env-driven defaults.
func buildEngine(p *pipeline) *query.Engine {
	return query.New(query.Config{
		TopK:             getEnvInt("RAG_TOP_K", 0),
		ScoreFloor:       float32(getEnvFloat("RAG_SCORE_FLOOR", 0)),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
	}, p.embedder, p.store, p.codec)
}

// buildSynthesizer constructs the answer synthesizer from env vars.
func buildSynthesizer() (*answer.Synthesizer, error) {
	syn, err := answer.New(&answer.Config{
		APIKey:  os.Getenv("OPENROUTER_API_KEY"),
		Model:   getEnvOrDefault("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		BaseURL: os.Getenv("OPENROUTER_BASE_URL"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise completion provider: %w", err)
	}
	return syn, nil
}

// indexStats reports index sizes for the stats command and GET /api/stats.
type indexStats struct {
	state *state.Store
	store rag.VectorStore
}

func (s *indexStats) DocumentCount(ctx context.Context) (int, error) {
	return s.state.Count(ctx)
}

func (s *indexStats) ChunkCount(ctx context.Context) (uint64, error) {
	return s.store.Count(ctx)
}

// getEnvOrDefault returns the env var value or a fallback if unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or a fallback if unset/invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat returns the env var parsed as float64, or a fallback if
// unset/invalid.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
