package rag

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys used for chunk points. Changing these invalidates existing
// collections.
const (
	payloadDocID   = "doc_id"
	payloadTitle   = "title"
	payloadPage    = "page"
	payloadOrdinal = "ordinal"
	payloadText    = "text"
	payloadTags    = "tags"
	payloadURL     = "url"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists with the expected vector size (creating it if necessary), and returns
// a ready-to-use VectorStore. An existing collection whose vector size differs
// from cfg.VectorSize is a configuration error and fails fast.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if missing, and verifies the
// vector size of an existing one.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to inspect collection %q: %w", s.cfg.Collection, err)
		}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			if params.GetSize() != s.cfg.VectorSize {
				return fmt.Errorf("qdrant: collection %q holds %d-dimensional vectors but the embedding model produces %d — reindex with a fresh collection or restore the original model",
					s.cfg.Collection, params.GetSize(), s.cfg.VectorSize)
			}
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or updates a batch of chunks with their embeddings. Waits for
// the write to be applied so a subsequent Search sees the new points.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(chunkPayload(chunk)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search, optionally restricted to chunks
// carrying at least one of the given tags. Results are ordered by descending
// score, with document ordinal as the tie-break so equal-scored chunks come
// back in reading order.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, tags []string) ([]Scored, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(tags) > 0 {
		query.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(payloadTags, tags...),
			},
		}
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		scored = append(scored, Scored{
			Chunk: chunkFromPayload(r.Id.GetUuid(), r.Payload),
			Score: r.Score,
		})
	}
	sortScored(scored)

	return scored, nil
}

// DeletePoints removes individual points from the collection by ID.
func (s *QdrantStore) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete points failed: %w", err)
	}

	return nil
}

// DeleteByDocument removes every point whose payload references the document.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeyword(payloadDocID, documentID),
			},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete document %s failed: %w", documentID, err)
	}

	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return count, nil
}

// Ping verifies the Qdrant server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// chunkPayload flattens a chunk into the point payload map.
func chunkPayload(chunk Chunk) map[string]any {
	tags := make([]any, len(chunk.Tags))
	for i, t := range chunk.Tags {
		tags[i] = t
	}
	return map[string]any{
		payloadDocID:   chunk.DocumentID,
		payloadTitle:   chunk.Title,
		payloadPage:    int64(chunk.Page),
		payloadOrdinal: int64(chunk.Ordinal),
		payloadText:    chunk.Text,
		payloadTags:    tags,
		payloadURL:     chunk.URL,
	}
}

// chunkFromPayload reconstructs a chunk from a point payload.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	chunk := Chunk{ID: id}
	if payload == nil {
		return chunk
	}

	chunk.DocumentID = payload[payloadDocID].GetStringValue()
	chunk.Title = payload[payloadTitle].GetStringValue()
	chunk.Page = int(payload[payloadPage].GetIntegerValue())
	chunk.Ordinal = int(payload[payloadOrdinal].GetIntegerValue())
	chunk.Text = payload[payloadText].GetStringValue()
	chunk.URL = payload[payloadURL].GetStringValue()
	if list := payload[payloadTags].GetListValue(); list != nil {
		for _, v := range list.Values {
			if tag := v.GetStringValue(); tag != "" {
				chunk.Tags = append(chunk.Tags, tag)
			}
		}
	}

	return chunk
}

// sortScored orders results by descending score, then ascending ordinal.
func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Ordinal < scored[j].Ordinal
	})
}
