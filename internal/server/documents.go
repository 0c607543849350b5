package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docqa-dev/docqa-go/internal/logging"
	"github.com/docqa-dev/docqa-go/internal/source"
)

// Paging defaults for the document endpoints.
const (
	defaultListLimit   = 20
	defaultSearchLimit = 10
)

// handleListDocuments handles GET /api/documents: a paginated view of the
// source listing, each entry annotated with its index state.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.catalog == nil {
		http.Error(w, "document listing unavailable", http.StatusServiceUnavailable)
		return
	}

	limit, ok := queryInt(w, r, "limit", defaultListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	if limit <= 0 || offset < 0 {
		http.Error(w, "limit must be positive and offset non-negative", http.StatusBadRequest)
		return
	}

	docs, err := s.catalog.List(r.Context(), time.Time{})
	if err != nil {
		log.Error("document listing failed", slog.Any("error", err))
		http.Error(w, "document listing failed", http.StatusBadGateway)
		return
	}

	if offset > len(docs) {
		offset = len(docs)
	}
	end := offset + limit
	if end > len(docs) {
		end = len(docs)
	}

	out := make([]documentResponse, 0, end-offset)
	for _, doc := range docs[offset:end] {
		resp, err := s.documentToResponse(r, doc)
		if err != nil {
			log.Error("index state lookup failed",
				slog.Int("doc_id", doc.ID),
				slog.Any("error", err),
			)
			http.Error(w, "document listing failed", http.StatusBadGateway)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetDocument handles GET /api/documents/{id}: one document's source
// metadata plus its index state.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.catalog == nil {
		http.Error(w, "document listing unavailable", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	doc, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		log.Error("document fetch failed", slog.Int("doc_id", id), slog.Any("error", err))
		http.Error(w, "document fetch failed", http.StatusBadGateway)
		return
	}

	resp, err := s.documentToResponse(r, doc)
	if err != nil {
		log.Error("index state lookup failed", slog.Int("doc_id", id), slog.Any("error", err))
		http.Error(w, "document fetch failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSearchDocuments handles GET /api/documents/search: case-insensitive
// title search over the source listing, prefix matches first.
func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.catalog == nil {
		http.Error(w, "document listing unavailable", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultSearchLimit)
	if !ok {
		return
	}
	if limit <= 0 {
		http.Error(w, "limit must be positive", http.StatusBadRequest)
		return
	}

	docs, err := s.catalog.List(r.Context(), time.Time{})
	if err != nil {
		log.Error("document search failed", slog.Any("error", err))
		http.Error(w, "document search failed", http.StatusBadGateway)
		return
	}

	needle := strings.ToLower(q)
	matches := make([]documentSearchResult, 0)
	for _, doc := range docs {
		if strings.Contains(strings.ToLower(doc.Title), needle) {
			matches = append(matches, documentSearchResult{
				ID:    doc.ID,
				Title: doc.Title,
				URL:   s.catalog.DocumentURL(doc.ID),
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		ti, tj := strings.ToLower(matches[i].Title), strings.ToLower(matches[j].Title)
		pi, pj := strings.HasPrefix(ti, needle), strings.HasPrefix(tj, needle)
		if pi != pj {
			return pi
		}
		return ti < tj
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	writeJSON(w, http.StatusOK, matches)
}

// documentToResponse converts a source document to its wire form, annotating
// it with the index state when a state store is wired.
func (s *Server) documentToResponse(r *http.Request, doc source.Document) (documentResponse, error) {
	resp := documentResponse{
		ID:       doc.ID,
		Title:    doc.Title,
		Modified: doc.Modified,
		Tags:     doc.Tags,
		URL:      s.catalog.DocumentURL(doc.ID),
	}
	if s.index == nil {
		return resp, nil
	}

	st, ok, err := s.index.Get(r.Context(), strconv.Itoa(doc.ID))
	if err != nil {
		return documentResponse{}, err
	}
	if ok {
		resp.Indexed = true
		resp.Chunks = len(st.ChunkIDs)
		indexedAt := st.IndexedAt
		resp.IndexedAt = &indexedAt
	}
	return resp, nil
}

// queryInt parses an integer query parameter, writing a 400 response and
// returning ok=false when the value is present but not a number.
func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		http.Error(w, "invalid "+name+" parameter", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
