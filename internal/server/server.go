// Package server implements the HTTP server that exposes document
// question-answering and ingestion via a REST API.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docqa-dev/docqa-go/internal/ingest"
	"github.com/docqa-dev/docqa-go/internal/logging"
	"github.com/docqa-dev/docqa-go/internal/query"
)

// Deps bundles the pipeline components the server exposes.
type Deps struct {
	// Retriever fetches relevant chunks for /api/ask.
	Retriever retriever
	// Synthesizer produces the final answer for /api/ask.
	Synthesizer synthesizer
	// Ingestor runs syncs and single-document operations.
	Ingestor ingestor
	// Catalog lists and fetches source documents for the document endpoints.
	// Optional; the endpoints return 503 when nil.
	Catalog catalog
	// Index reports per-document index state alongside catalog results.
	Index indexLookup
	// Stats reports index sizes.
	Stats statsProvider
}

// New constructs a Server from the provided components and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Retriever == nil || deps.Synthesizer == nil || deps.Ingestor == nil {
		return nil, fmt.Errorf("server: retriever, synthesizer and ingestor must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout covers the completion call, which can be slow.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		retriever:   deps.Retriever,
		synthesizer: deps.Synthesizer,
		ingestor:    deps.Ingestor,
		catalog:     deps.Catalog,
		index:       deps.Index,
		stats:       deps.Stats,
		cfg:         cfg,
		log:         log,
		pingers:     cfg.Pingers,
		metrics:     newServerMetrics(registry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: DOCQA_API_KEY not set — API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protect("ask", s.handleAsk))
	mux.Handle("POST /api/ingest", protect("ingest", s.handleIngest))
	mux.Handle("GET /api/documents", protect("list_documents", s.handleListDocuments))
	mux.Handle("GET /api/documents/search", protect("search_documents", s.handleSearchDocuments))
	mux.Handle("GET /api/documents/{id}", protect("get_document", s.handleGetDocument))
	mux.Handle("DELETE /api/documents/{id}", protect("delete_document", s.handleDeleteDocument))
	mux.Handle("GET /api/stats", protect("stats", s.handleStats))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask: retrieve relevant chunks, synthesize an
// answer, and return it with citations.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	chunks, err := s.retriever.Retrieve(r.Context(), req.Question, query.Options{
		TopK: req.TopK,
		Tags: req.Tags,
	})
	if err != nil {
		log.Error("retrieval failed", slog.Any("error", err))
		http.Error(w, "retrieval failed", http.StatusBadGateway)
		s.metrics.askRequestsTotal.WithLabelValues("retrieval_error").Inc()
		return
	}

	ans, err := s.synthesizer.Synthesize(r.Context(), req.Question, chunks)
	if err != nil {
		log.Error("answer synthesis failed", slog.Any("error", err))
		http.Error(w, "answer synthesis failed", http.StatusBadGateway)
		s.metrics.askRequestsTotal.WithLabelValues("completion_error").Inc()
		return
	}

	s.metrics.askRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.askDurationSeconds.Observe(time.Since(start).Seconds())
	log.Info("question answered",
		slog.Int("chunks", len(chunks)),
		slog.Int("citations", len(ans.Citations)),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, ans)
}

// handleIngest handles POST /api/ingest. With a document_id it (re)ingests a
// single document; otherwise it runs an incremental or full sync.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.DocumentID > 0 {
		res := s.ingestor.IngestDocument(r.Context(), req.DocumentID, req.ForceReindex)
		status := http.StatusOK
		if res.Status == ingest.StatusFailed {
			status = http.StatusBadGateway
			if ingest.IsNotFound(res.Err) {
				status = http.StatusNotFound
			}
		}
		writeJSON(w, status, ingestResultToResponse(res))
		return
	}

	var sum *ingest.Summary
	var err error
	if req.UpdatedAfter != "" {
		since, perr := time.Parse(time.RFC3339, req.UpdatedAfter)
		if perr != nil {
			http.Error(w, "invalid updated_after timestamp", http.StatusBadRequest)
			return
		}
		sum, err = s.ingestor.SyncSince(r.Context(), since, req.ForceReindex)
	} else {
		sum, err = s.ingestor.Sync(r.Context(), req.Full, req.ForceReindex)
	}
	if err != nil {
		log.Error("sync failed", slog.Any("error", err))
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Total:           sum.Total,
		Indexed:         sum.Indexed,
		Skipped:         sum.Skipped,
		Failed:          sum.Failed,
		Pruned:          sum.Pruned,
		DurationSeconds: sum.Duration.Seconds(),
	})
}

// handleDeleteDocument handles DELETE /api/documents/{id}: removes the
// document's chunks and state.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id := r.PathValue("id")
	if _, err := strconv.Atoi(id); err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	if err := s.ingestor.Remove(r.Context(), id); err != nil {
		log.Error("document removal failed",
			slog.String("doc_id", id),
			slog.Any("error", err),
		)
		http.Error(w, "removal failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	docs, err := s.stats.DocumentCount(r.Context())
	if err != nil {
		log.Error("stats failed", slog.Any("error", err))
		http.Error(w, "stats failed", http.StatusBadGateway)
		return
	}
	chunks, err := s.stats.ChunkCount(r.Context())
	if err != nil {
		log.Error("stats failed", slog.Any("error", err))
		http.Error(w, "stats failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Documents: docs, Chunks: chunks})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestResultToResponse converts an ingest result to its wire form.
func ingestResultToResponse(res ingest.Result) ingestDocumentResponse {
	out := ingestDocumentResponse{
		DocumentID: res.DocumentID,
		Status:     string(res.Status),
		Chunks:     res.Chunks,
		Reason:     res.Reason,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
