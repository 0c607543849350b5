package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docqa-dev/docqa-go/internal/rag"
)

type countCodec struct{}

func (countCodec) Count(text string) int { return len(strings.Fields(text)) }

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (s *stubEmbedder) ModelID() string { return "stub/test" }
func (s *stubEmbedder) Dimensions() int { return 2 }

type stubStore struct {
	rag.VectorStore

	results []rag.Scored
	err     error
	gotTopK int
	gotTags []string
}

func (s *stubStore) Search(ctx context.Context, vector []float32, topK int, tags []string) ([]rag.Scored, error) {
	s.gotTopK = topK
	s.gotTags = tags
	return s.results, s.err
}

func scored(id string, score float32, words int) rag.Scored {
	return rag.Scored{
		Chunk: rag.Chunk{ID: id, Text: strings.Repeat("word ", words)},
		Score: score,
	}
}

func TestRetrieveBudget(t *testing.T) {
	t.Parallel()

	store := &stubStore{results: []rag.Scored{
		scored("a", 0.9, 40),
		scored("b", 0.8, 40),
		scored("c", 0.7, 40),
	}}
	e := New(Config{TopK: 6, MaxContextTokens: 100}, &stubEmbedder{}, store, countCodec{})

	got, err := e.Retrieve(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	// The third chunk would overflow the 100-token budget.
	if len(got) != 2 {
		t.Fatalf("selected %d chunks, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("selected %q, %q", got[0].ID, got[1].ID)
	}
}

func TestRetrieveScoreFloor(t *testing.T) {
	t.Parallel()

	store := &stubStore{results: []rag.Scored{
		scored("a", 0.9, 5),
		scored("b", 0.2, 5),
		scored("c", 0.1, 5),
	}}
	e := New(Config{TopK: 6, ScoreFloor: 0.5, MaxContextTokens: 100}, &stubEmbedder{}, store, countCodec{})

	got, err := e.Retrieve(context.Background(), "question", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("selected %v, want only a", got)
	}
}

func TestRetrieveEmpty(t *testing.T) {
	t.Parallel()

	e := New(Config{}, &stubEmbedder{}, &stubStore{}, countCodec{})
	got, err := e.Retrieve(context.Background(), "question", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("selected %d chunks from empty store", len(got))
	}
}

func TestRetrieveOptions(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	e := New(Config{TopK: 6}, &stubEmbedder{}, store, countCodec{})

	if _, err := e.Retrieve(context.Background(), "q", Options{TopK: 3, Tags: []string{"x"}}); err != nil {
		t.Fatal(err)
	}
	if store.gotTopK != 3 {
		t.Errorf("topK = %d, want override 3", store.gotTopK)
	}
	if len(store.gotTags) != 1 || store.gotTags[0] != "x" {
		t.Errorf("tags = %v", store.gotTags)
	}

	// Zero TopK falls back to the configured default.
	if _, err := e.Retrieve(context.Background(), "q", Options{}); err != nil {
		t.Fatal(err)
	}
	if store.gotTopK != 6 {
		t.Errorf("topK = %d, want default 6", store.gotTopK)
	}
}

func TestRetrieveErrors(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("backend down")

	e := New(Config{}, &stubEmbedder{err: wantErr}, &stubStore{}, countCodec{})
	if _, err := e.Retrieve(context.Background(), "q", Options{}); !errors.Is(err, wantErr) {
		t.Errorf("embed error not surfaced: %v", err)
	}

	e = New(Config{}, &stubEmbedder{}, &stubStore{err: wantErr}, countCodec{})
	if _, err := e.Retrieve(context.Background(), "q", Options{}); !errors.Is(err, wantErr) {
		t.Errorf("search error not surfaced: %v", err)
	}
}
