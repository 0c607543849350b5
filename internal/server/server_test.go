package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-dev/docqa-go/internal/answer"
	"github.com/docqa-dev/docqa-go/internal/ingest"
	"github.com/docqa-dev/docqa-go/internal/query"
	"github.com/docqa-dev/docqa-go/internal/rag"
	"github.com/docqa-dev/docqa-go/internal/source"
)

type fakeRetriever struct {
	chunks  []rag.Scored
	err     error
	gotOpts query.Options
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, opts query.Options) ([]rag.Scored, error) {
	f.gotOpts = opts
	return f.chunks, f.err
}

type fakeSynthesizer struct {
	answer *answer.Answer
	err    error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, question string, chunks []rag.Scored) (*answer.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeIngestor struct {
	summary   *ingest.Summary
	result    ingest.Result
	removeErr error
	removed   []string
	gotFull   bool
	gotForce  bool
	gotSince  time.Time
}

func (f *fakeIngestor) Sync(ctx context.Context, full, force bool) (*ingest.Summary, error) {
	f.gotFull = full
	f.gotForce = force
	if f.summary == nil {
		return nil, errors.New("no summary configured")
	}
	return f.summary, nil
}

func (f *fakeIngestor) SyncSince(ctx context.Context, since time.Time, force bool) (*ingest.Summary, error) {
	f.gotSince = since
	f.gotForce = force
	if f.summary == nil {
		return nil, errors.New("no summary configured")
	}
	return f.summary, nil
}

func (f *fakeIngestor) IngestDocument(ctx context.Context, id int, force bool) ingest.Result {
	f.gotForce = force
	return f.result
}

func (f *fakeIngestor) Remove(ctx context.Context, documentID string) error {
	f.removed = append(f.removed, documentID)
	return f.removeErr
}

type fakeStats struct {
	docs   int
	chunks uint64
	err    error
}

func (f *fakeStats) DocumentCount(ctx context.Context) (int, error) { return f.docs, f.err }
func (f *fakeStats) ChunkCount(ctx context.Context) (uint64, error) { return f.chunks, f.err }

type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                   { return f.name }
func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type testDeps struct {
	retriever   *fakeRetriever
	synthesizer *fakeSynthesizer
	ingestor    *fakeIngestor
	catalog     *fakeCatalog
	index       *fakeIndex
	stats       *fakeStats
}

func newTestServer(t *testing.T, deps *testDeps, cfg *Config) *Server {
	t.Helper()

	if deps.retriever == nil {
		deps.retriever = &fakeRetriever{}
	}
	if deps.synthesizer == nil {
		deps.synthesizer = &fakeSynthesizer{answer: &answer.Answer{Text: "ok"}}
	}
	if deps.ingestor == nil {
		deps.ingestor = &fakeIngestor{}
	}
	if deps.stats == nil {
		deps.stats = &fakeStats{}
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	// Generous limits so tests are not rate limited unless they ask to be.
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}

	var cat catalog
	if deps.catalog != nil {
		cat = deps.catalog
	}
	var idx indexLookup
	if deps.index != nil {
		idx = deps.index
	}

	s, err := New(Deps{
		Retriever:   deps.retriever,
		Synthesizer: deps.synthesizer,
		Ingestor:    deps.ingestor,
		Catalog:     cat,
		Index:       idx,
		Stats:       deps.stats,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleAsk(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{chunks: []rag.Scored{
		{Chunk: rag.Chunk{DocumentID: "7", Title: "Report", Page: 3, Text: "total was 42"}, Score: 0.9},
	}}
	synth := &fakeSynthesizer{answer: &answer.Answer{
		Text: "The total was 42.",
		Citations: []answer.Citation{
			{DocumentID: "7", Title: "Report", Page: 3, Score: 0.9, Snippet: "total was 42"},
		},
	}}
	s := newTestServer(t, &testDeps{retriever: retriever, synthesizer: synth}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":"what was the total?","top_k":3,"tags":["finance"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got answer.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Text != "The total was 42." {
		t.Errorf("answer = %q", got.Text)
	}
	if len(got.Citations) != 1 || got.Citations[0].Page != 3 {
		t.Errorf("citations = %+v", got.Citations)
	}

	if retriever.gotOpts.TopK != 3 || len(retriever.gotOpts.Tags) != 1 {
		t.Errorf("options not forwarded: %+v", retriever.gotOpts)
	}
}

func TestHandleAskValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{}, nil)

	if rec := doJSON(t, s, http.MethodPost, "/api/ask", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty question: status = %d", rec.Code)
	}
}

func TestHandleAskUpstreamErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{retriever: &fakeRetriever{err: errors.New("qdrant down")}}, nil)
	if rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":"q"}`); rec.Code != http.StatusBadGateway {
		t.Errorf("retrieval error: status = %d", rec.Code)
	}

	s = newTestServer(t, &testDeps{synthesizer: &fakeSynthesizer{err: errors.New("provider down")}}, nil)
	if rec := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":"q"}`); rec.Code != http.StatusBadGateway {
		t.Errorf("completion error: status = %d", rec.Code)
	}
}

func TestHandleIngestSync(t *testing.T) {
	t.Parallel()

	ing := &fakeIngestor{summary: &ingest.Summary{Total: 5, Indexed: 3, Skipped: 2}}
	s := newTestServer(t, &testDeps{ingestor: ing}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"full":true,"force_reindex":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !ing.gotFull || !ing.gotForce {
		t.Error("full/force flags not forwarded")
	}

	var got syncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 5 || got.Indexed != 3 || got.Skipped != 2 {
		t.Errorf("response = %+v", got)
	}
}

func TestHandleIngestUpdatedAfter(t *testing.T) {
	t.Parallel()

	ing := &fakeIngestor{summary: &ingest.Summary{Total: 1, Indexed: 1}}
	s := newTestServer(t, &testDeps{ingestor: ing}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"updated_after":"2026-08-01T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !ing.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", ing.gotSince, want)
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"updated_after":"yesterday"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp: status = %d", rec.Code)
	}
}

func TestHandleIngestSingleDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     ingest.Result
		wantStatus int
	}{
		{"indexed", ingest.Result{DocumentID: "7", Status: ingest.StatusIndexed, Chunks: 4}, http.StatusOK},
		{"skipped", ingest.Result{DocumentID: "7", Status: ingest.StatusSkipped, Reason: "unchanged"}, http.StatusOK},
		{"failed", ingest.Result{DocumentID: "7", Status: ingest.StatusFailed, Err: errors.New("boom")}, http.StatusBadGateway},
		{"not found", ingest.Result{DocumentID: "7", Status: ingest.StatusFailed, Err: fmt.Errorf("get: %w", source.ErrNotFound)}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, &testDeps{ingestor: &fakeIngestor{result: tt.result}}, nil)
			rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"document_id":7}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	t.Parallel()

	ing := &fakeIngestor{}
	s := newTestServer(t, &testDeps{ingestor: ing}, nil)

	rec := doJSON(t, s, http.MethodDelete, "/api/documents/42", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ing.removed) != 1 || ing.removed[0] != "42" {
		t.Errorf("removed = %v", ing.removed)
	}

	if rec := doJSON(t, s, http.MethodDelete, "/api/documents/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id: status = %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{stats: &fakeStats{docs: 12, chunks: 340}}, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Documents != 12 || got.Chunks != 340 {
		t.Errorf("response = %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{}, nil)
	if rec := doJSON(t, s, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	t.Run("all ok", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &testDeps{}, &Config{
			Pingers: []Pinger{&fakePinger{name: "source"}, &fakePinger{name: "qdrant"}},
		})
		rec := doJSON(t, s, http.MethodGet, "/api/ready", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		var got readyResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if !got.Ready || len(got.Checks) != 2 {
			t.Errorf("response = %+v", got)
		}
	})

	t.Run("dependency down", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &testDeps{}, &Config{
			Pingers: []Pinger{
				&fakePinger{name: "source"},
				&fakePinger{name: "qdrant", err: errors.New("connection refused")},
			},
		})
		rec := doJSON(t, s, http.MethodGet, "/api/ready", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", rec.Code)
		}

		var got readyResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Ready {
			t.Error("ready = true with failing dependency")
		}
		if got.Checks[1].OK || got.Checks[1].Error == "" {
			t.Errorf("failing check = %+v", got.Checks[1])
		}
	})
}

func TestAuth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{}, &Config{APIKey: "secret"})

	// Protected route without a token.
	rec := doJSON(t, s, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Error("missing WWW-Authenticate challenge")
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", rec.Code)
	}

	// Health stays open without auth.
	if rec := doJSON(t, s, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health behind auth: status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{stats: &fakeStats{}}, &Config{RateLimit: 1, RateBurst: 2})

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, s, http.MethodGet, "/api/stats", "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake/fake" }
func (f *fakeEmbedder) Dimensions() int { return 1 }

func TestEmbedderPinger(t *testing.T) {
	t.Parallel()

	if err := NewEmbedderPinger(&fakeEmbedder{}).Ping(context.Background()); err != nil {
		t.Errorf("healthy embedder: Ping() = %v", err)
	}
	if err := NewEmbedderPinger(&fakeEmbedder{err: errors.New("down")}).Ping(context.Background()); err == nil {
		t.Error("failing embedder: Ping() = nil")
	}
}

func TestCompletionConfigPinger(t *testing.T) {
	t.Parallel()

	if err := NewCompletionConfigPinger("key").Ping(context.Background()); err != nil {
		t.Errorf("configured: Ping() = %v", err)
	}
	if err := NewCompletionConfigPinger("").Ping(context.Background()); err == nil {
		t.Error("unconfigured: Ping() = nil")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &testDeps{}, nil)

	// Generate one request so the counters exist.
	doJSON(t, s, http.MethodGet, "/api/health", "")

	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docqa_http_requests_total") {
		t.Error("metrics output missing docqa_http_requests_total")
	}
}
