// Package ingest implements the ingestion pipeline: it pulls documents from
// the source, extracts and chunks their text, embeds the chunks and writes
// them to the vector store, tracking per-document state so re-runs are
// idempotent and incremental.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/docqa-dev/docqa-go/internal/chunker"
	"github.com/docqa-dev/docqa-go/internal/extract"
	"github.com/docqa-dev/docqa-go/internal/logging"
	"github.com/docqa-dev/docqa-go/internal/rag"
	"github.com/docqa-dev/docqa-go/internal/source"
	"github.com/docqa-dev/docqa-go/internal/state"
)

// embedBatchSize caps the number of chunks sent to the embedder per call.
const embedBatchSize = 64

// Source is the slice of the document source API the pipeline needs.
// *source.Client satisfies it.
type Source interface {
	List(ctx context.Context, updatedAfter time.Time) ([]source.Document, error)
	Get(ctx context.Context, id int) (source.Document, error)
	Download(ctx context.Context, id int) (filename string, content []byte, err error)
	DocumentURL(id int) string
}

// Status classifies the outcome of ingesting one document.
type Status string

const (
	// StatusIndexed means the document's chunks were (re)written.
	StatusIndexed Status = "indexed"
	// StatusSkipped means nothing was written; Result.Reason says why.
	StatusSkipped Status = "skipped"
	// StatusFailed means the document could not be ingested; Result.Err says why.
	StatusFailed Status = "failed"
)

// Result is the outcome of ingesting one document.
type Result struct {
	// DocumentID is the source document ID.
	DocumentID string
	// Title is the document title, when known.
	Title string
	// Status classifies the outcome.
	Status Status
	// Chunks is the number of chunks written (indexed documents only).
	Chunks int
	// Reason explains a skip.
	Reason string
	// Err is the failure cause.
	Err error
}

// Summary aggregates the results of a sync run.
type Summary struct {
	// Total is the number of documents considered.
	Total int
	// Indexed, Skipped and Failed count the per-document outcomes.
	Indexed int
	Skipped int
	Failed  int
	// Pruned is the number of documents removed because the source no
	// longer has them (full syncs only).
	Pruned int
	// Duration is the wall-clock time of the run.
	Duration time.Duration
	// Results holds the per-document outcomes, in completion order.
	Results []Result
}

// Config holds the tunables of the ingestion pipeline.
type Config struct {
	// ChunkTokens is the token window size per chunk.
	ChunkTokens int
	// ChunkOverlap is the token overlap between consecutive chunks.
	ChunkOverlap int
	// Workers is the number of documents processed in parallel.
	Workers int
}

// Orchestrator coordinates the per-document pipeline and the batch sync.
// It is safe for concurrent use; inflight guards ensure a document is never
// ingested by two goroutines at once.
type Orchestrator struct {
	source   Source
	chunker  *chunker.Chunker
	embedder rag.Embedder
	store    rag.VectorStore
	state    *state.Store
	metrics  *Metrics
	workers  int

	// retryInterval is the initial backoff interval for transient embed
	// and store failures. Tests shrink it.
	retryInterval time.Duration

	// inflightMu guards inflight, the set of document IDs currently being
	// ingested.
	inflightMu sync.Mutex
	inflight   map[string]bool
}

// New constructs an Orchestrator.
func New(cfg Config, src Source, codec chunkerCodec, emb rag.Embedder, store rag.VectorStore, st *state.Store, metrics *Metrics) (*Orchestrator, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	ch, err := chunker.New(codec, cfg.ChunkTokens, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		source:        src,
		chunker:       ch,
		embedder:      emb,
		store:         store,
		state:         st,
		metrics:       metrics,
		workers:       cfg.Workers,
		retryInterval: 500 * time.Millisecond,
		inflight:      make(map[string]bool),
	}, nil
}

// chunkerCodec matches tokens.Codec without importing it, so tests can plug
// in a trivial tokenizer.
type chunkerCodec interface {
	Encode(text string) []int
	Decode(ids []int) string
	Count(text string) int
}

// Sync runs one sync pass. When full is false, only documents modified after
// the stored watermark are considered; when true, the whole source listing is
// walked and state entries for documents the source no longer has are pruned.
// When force is true, the unchanged-hash check is bypassed and every candidate
// document is re-embedded, keeping the usual write-then-delete-stale ordering.
//
// The watermark is captured at the start of the run and advanced only when no
// document failed, so failed documents are retried by the next incremental
// run.
func (o *Orchestrator) Sync(ctx context.Context, full, force bool) (*Summary, error) {
	var since time.Time
	if !full {
		wm, err := o.state.Watermark(ctx)
		if err != nil {
			return nil, err
		}
		since = wm
	}
	return o.run(ctx, since, full, force)
}

// SyncSince runs an incremental pass over documents modified after the given
// timestamp, ignoring the stored watermark. The watermark still advances to
// the run start when no document failed.
func (o *Orchestrator) SyncSince(ctx context.Context, since time.Time, force bool) (*Summary, error) {
	return o.run(ctx, since, false, force)
}

func (o *Orchestrator) run(ctx context.Context, since time.Time, full, force bool) (*Summary, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	docs, err := o.source.List(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("ingest: list documents: %w", err)
	}
	log.Info("sync started",
		slog.Bool("full", full),
		slog.Bool("force", force),
		slog.Int("documents", len(docs)),
		slog.Time("since", since),
	)

	summary := &Summary{Total: len(docs)}
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			res := o.ingestOne(gctx, doc, force)
			o.observe(res)

			resultsMu.Lock()
			summary.Results = append(summary.Results, res)
			switch res.Status {
			case StatusIndexed:
				summary.Indexed++
			case StatusSkipped:
				summary.Skipped++
			case StatusFailed:
				summary.Failed++
			}
			resultsMu.Unlock()

			if res.Err != nil {
				log.Error("document ingestion failed",
					slog.String("doc_id", res.DocumentID),
					slog.String("error", res.Err.Error()),
				)
			}
			// Per-document failures never abort the batch.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if full {
		pruned, err := o.pruneMissing(ctx, docs)
		if err != nil {
			return nil, err
		}
		summary.Pruned = pruned
	}

	if summary.Failed == 0 {
		if err := o.state.SetWatermark(ctx, start); err != nil {
			return nil, err
		}
	}

	summary.Duration = time.Since(start)
	o.metrics.SyncDuration.Observe(summary.Duration.Seconds())
	log.Info("sync finished",
		slog.Int("indexed", summary.Indexed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("pruned", summary.Pruned),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// IngestDocument ingests a single document by source ID, fetching its
// metadata first. Used by the API and CLI for targeted re-ingestion. When
// force is true the unchanged-hash check is bypassed.
func (o *Orchestrator) IngestDocument(ctx context.Context, id int, force bool) Result {
	doc, err := o.source.Get(ctx, id)
	if err != nil {
		res := Result{DocumentID: strconv.Itoa(id), Status: StatusFailed, Err: err}
		o.observe(res)
		return res
	}
	res := o.ingestOne(ctx, doc, force)
	o.observe(res)
	return res
}

// Remove deletes a document's chunks from the vector store and its state
// record. Removing an unknown document is a no-op.
func (o *Orchestrator) Remove(ctx context.Context, documentID string) error {
	if err := o.store.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return o.state.Delete(ctx, documentID)
}

// ingestOne runs the full pipeline for one document.
func (o *Orchestrator) ingestOne(ctx context.Context, doc source.Document, force bool) Result {
	docID := strconv.Itoa(doc.ID)
	res := Result{DocumentID: docID, Title: doc.Title}

	if !o.tryLock(docID) {
		res.Status = StatusSkipped
		res.Reason = "ingestion in progress"
		return res
	}
	defer o.unlock(docID)

	filename, content, err := o.source.Download(ctx, doc.ID)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("download: %w", err)
		return res
	}
	if filename == "" {
		filename = doc.OriginalFilename
	}

	pages, err := extract.Extract(filename, content)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("extract: %w", err)
		return res
	}

	chunks := o.chunker.Split(docID, pages)
	prev, hadPrev, err := o.state.Get(ctx, docID)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	if len(chunks) == 0 {
		// Nothing indexable. Drop whatever an earlier version left behind.
		if hadPrev {
			if err := o.Remove(ctx, docID); err != nil {
				res.Status = StatusFailed
				res.Err = err
				return res
			}
		}
		res.Status = StatusSkipped
		res.Reason = "no extractable text"
		return res
	}

	hash := chunker.DocumentHash(chunks)
	if !force && hadPrev && prev.ContentHash == hash {
		res.Status = StatusSkipped
		res.Reason = "unchanged"
		return res
	}

	vectors, err := o.embedChunks(ctx, chunks)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("embed: %w", err)
		return res
	}

	points := make([]rag.Chunk, len(chunks))
	newIDs := make([]string, len(chunks))
	url := o.source.DocumentURL(doc.ID)
	for i, c := range chunks {
		points[i] = rag.Chunk{
			ID:         c.ID,
			DocumentID: docID,
			Title:      doc.Title,
			Page:       c.Page,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Tags:       doc.Tags,
			URL:        url,
		}
		newIDs[i] = c.ID
	}

	// Write new points before deleting stale ones so a crash in between
	// leaves extra points, never missing ones.
	if err := o.withRetry(ctx, func() error {
		return o.store.Upsert(ctx, points, vectors)
	}); err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("store: %w", err)
		return res
	}

	if hadPrev {
		if stale := diffIDs(prev.ChunkIDs, newIDs); len(stale) > 0 {
			if err := o.withRetry(ctx, func() error {
				return o.store.DeletePoints(ctx, stale)
			}); err != nil {
				res.Status = StatusFailed
				res.Err = fmt.Errorf("store: delete stale: %w", err)
				return res
			}
		}
	}

	if err := o.state.Put(ctx, state.DocumentState{
		DocumentID:  docID,
		ContentHash: hash,
		ChunkIDs:    newIDs,
		Title:       doc.Title,
		IndexedAt:   time.Now(),
	}); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	res.Status = StatusIndexed
	res.Chunks = len(chunks)
	return res
}

// embedChunks embeds the chunk texts in bounded batches, retrying transient
// provider failures.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}

		var batch [][]float32
		err := o.withRetry(ctx, func() error {
			var embedErr error
			batch, embedErr = o.embedder.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// withRetry runs op with bounded exponential backoff. Context cancellation
// stops the retries immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, 3), ctx)
	return backoff.Retry(op, policy)
}

// pruneMissing removes state and vectors for documents the source listing no
// longer contains. Only called on full syncs, where docs is the complete
// listing.
func (o *Orchestrator) pruneMissing(ctx context.Context, docs []source.Document) (int, error) {
	listed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		listed[strconv.Itoa(doc.ID)] = true
	}

	known, err := o.state.DocumentIDs(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range known {
		if listed[id] {
			continue
		}
		if err := o.Remove(ctx, id); err != nil {
			return pruned, fmt.Errorf("ingest: prune document %s: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}

// tryLock marks a document as in flight. Returns false when another goroutine
// is already ingesting it.
func (o *Orchestrator) tryLock(docID string) bool {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if o.inflight[docID] {
		return false
	}
	o.inflight[docID] = true
	return true
}

func (o *Orchestrator) unlock(docID string) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	delete(o.inflight, docID)
}

// observe records a result in the metrics.
func (o *Orchestrator) observe(res Result) {
	switch res.Status {
	case StatusIndexed:
		o.metrics.DocumentsIndexed.Inc()
		o.metrics.ChunksIndexed.Add(float64(res.Chunks))
	case StatusSkipped:
		o.metrics.DocumentsSkipped.Inc()
	case StatusFailed:
		o.metrics.DocumentsFailed.Inc()
	}
}

// diffIDs returns the members of old that are not in new.
func diffIDs(old, new []string) []string {
	keep := make(map[string]bool, len(new))
	for _, id := range new {
		keep[id] = true
	}
	var stale []string
	for _, id := range old {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

// IsNotFound reports whether the error means the source does not know the
// document.
func IsNotFound(err error) bool {
	return errors.Is(err, source.ErrNotFound)
}
