package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-dev/docqa-go/internal/answer"
	"github.com/docqa-dev/docqa-go/internal/ingest"
	"github.com/docqa-dev/docqa-go/internal/query"
	"github.com/docqa-dev/docqa-go/internal/rag"
	"github.com/docqa-dev/docqa-go/internal/source"
	"github.com/docqa-dev/docqa-go/internal/state"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry is the Prometheus registry served at /metrics. If nil, a
	// fresh registry holding only the server's own metrics is used.
	Registry *prometheus.Registry
}

// retriever is the interface handleAsk uses to fetch relevant chunks.
// *query.Engine satisfies it; tests inject a fake.
type retriever interface {
	Retrieve(ctx context.Context, question string, opts query.Options) ([]rag.Scored, error)
}

// synthesizer is the interface handleAsk uses to produce the final answer.
// *answer.Synthesizer satisfies it; tests inject a fake.
type synthesizer interface {
	Synthesize(ctx context.Context, question string, chunks []rag.Scored) (*answer.Answer, error)
}

// ingestor is the interface the ingestion endpoints delegate to.
// *ingest.Orchestrator satisfies it; tests inject a fake.
type ingestor interface {
	Sync(ctx context.Context, full, force bool) (*ingest.Summary, error)
	SyncSince(ctx context.Context, since time.Time, force bool) (*ingest.Summary, error)
	IngestDocument(ctx context.Context, id int, force bool) ingest.Result
	Remove(ctx context.Context, documentID string) error
}

// catalog is the slice of the document source the read-only document
// endpoints use. *source.Client satisfies it; tests inject a fake.
type catalog interface {
	List(ctx context.Context, updatedAfter time.Time) ([]source.Document, error)
	Get(ctx context.Context, id int) (source.Document, error)
	DocumentURL(id int) string
}

// indexLookup reports whether (and how) a document is indexed.
// *state.Store satisfies it.
type indexLookup interface {
	Get(ctx context.Context, documentID string) (state.DocumentState, bool, error)
}

// statsProvider reports index sizes for GET /api/stats.
type statsProvider interface {
	// DocumentCount is the number of indexed documents.
	DocumentCount(ctx context.Context) (int, error)
	// ChunkCount is the number of points in the vector store.
	ChunkCount(ctx context.Context) (uint64, error)
}

// Server is the HTTP server exposing the question-answering API.
type Server struct {
	// retriever fetches relevant chunks for /api/ask.
	retriever retriever
	// synthesizer produces the final answer for /api/ask.
	synthesizer synthesizer
	// ingestor runs syncs and single-document operations.
	ingestor ingestor
	// catalog lists and fetches source documents for the document endpoints.
	catalog catalog
	// index reports per-document index state alongside catalog results.
	index indexLookup
	// stats reports index sizes.
	stats statsProvider
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// TopK overrides the configured candidate count when positive.
	TopK int `json:"top_k,omitempty"`
	// Tags restricts retrieval to documents carrying at least one of the tags.
	Tags []string `json:"tags,omitempty"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Full requests a full sync instead of an incremental one.
	Full bool `json:"full,omitempty"`
	// ForceReindex bypasses the unchanged-content check.
	ForceReindex bool `json:"force_reindex,omitempty"`
	// UpdatedAfter restricts an incremental sync to documents modified after
	// this RFC3339 timestamp, overriding the stored watermark.
	UpdatedAfter string `json:"updated_after,omitempty"`
	// DocumentID targets a single document instead of a sync.
	DocumentID int `json:"document_id,omitempty"`
}

// ingestDocumentResponse is the JSON response for a single-document ingest.
type ingestDocumentResponse struct {
	// DocumentID is the source document ID.
	DocumentID string `json:"doc_id"`
	// Status is "indexed", "skipped", or "failed".
	Status string `json:"status"`
	// Chunks is the number of chunks written.
	Chunks int `json:"chunks,omitempty"`
	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
	// Error is the failure cause.
	Error string `json:"error,omitempty"`
}

// syncResponse is the JSON response for a sync run.
type syncResponse struct {
	// Total is the number of documents considered.
	Total int `json:"total"`
	// Indexed, Skipped, Failed and Pruned count the outcomes.
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Pruned  int `json:"pruned"`
	// DurationSeconds is the wall-clock duration of the run.
	DurationSeconds float64 `json:"duration_seconds"`
}

// documentResponse is the JSON form of a source document plus its index state.
type documentResponse struct {
	// ID is the source document ID.
	ID int `json:"id"`
	// Title is the document title.
	Title string `json:"title"`
	// Modified is the last-modified timestamp reported by the source.
	Modified time.Time `json:"modified"`
	// Tags are the document's tag names.
	Tags []string `json:"tags"`
	// URL links to the document in the source's web UI.
	URL string `json:"url"`
	// Indexed reports whether the document is in the vector index.
	Indexed bool `json:"indexed"`
	// Chunks is the number of indexed chunks (indexed documents only).
	Chunks int `json:"chunks,omitempty"`
	// IndexedAt is when the document was last indexed (indexed documents only).
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}

// documentSearchResult is one hit of GET /api/documents/search.
type documentSearchResult struct {
	// ID is the source document ID.
	ID int `json:"id"`
	// Title is the document title.
	Title string `json:"title"`
	// URL links to the document in the source's web UI.
	URL string `json:"url"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Documents is the number of indexed documents.
	Documents int `json:"documents"`
	// Chunks is the number of points in the vector store.
	Chunks uint64 `json:"chunks"`
}
