package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docqa-dev/docqa-go/internal/rag"
)

type fakeCompleter struct {
	gotReq openai.ChatCompletionRequest
	reply  string
	err    error
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Model: req.Model,
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func chunk(doc, title string, page, ordinal int, text string, score float32) rag.Scored {
	return rag.Scored{
		Chunk: rag.Chunk{
			DocumentID: doc,
			Title:      title,
			Page:       page,
			Ordinal:    ordinal,
			Text:       text,
			URL:        "https://docs.test/documents/" + doc + "/",
		},
		Score: score,
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{reply: "  The total was 42. (Report, p. 3)  "}
	s := NewWithCompleter(fake, "openai/gpt-4o-mini")

	chunks := []rag.Scored{
		chunk("7", "Report", 3, 0, "total was 42", 0.9),
		chunk("7", "Report", 4, 1, "other details", 0.8),
		chunk("9", "Memo", 1, 0, "unrelated note", 0.7),
	}

	got, err := s.Synthesize(context.Background(), "what was the total?", chunks)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Text != "The total was 42. (Report, p. 3)" {
		t.Errorf("answer text = %q", got.Text)
	}
	if len(got.Citations) != 3 {
		t.Fatalf("citations = %d, want 3", len(got.Citations))
	}
	if got.Citations[0].Score != 0.9 || got.Citations[0].Page != 3 {
		t.Errorf("citations not score-ordered: %+v", got.Citations)
	}
	if got.Query != "what was the total?" {
		t.Errorf("query = %q", got.Query)
	}
	if got.ModelUsed != "openai/gpt-4o-mini" {
		t.Errorf("model used = %q", got.ModelUsed)
	}

	if fake.gotReq.Model != "openai/gpt-4o-mini" {
		t.Errorf("model = %q", fake.gotReq.Model)
	}
	if fake.gotReq.Temperature != completionTemperature || fake.gotReq.MaxTokens != completionMaxTokens {
		t.Errorf("sampling params = %+v", fake.gotReq)
	}
	if len(fake.gotReq.Messages) != 2 {
		t.Fatalf("messages = %d, want system + user", len(fake.gotReq.Messages))
	}

	prompt := fake.gotReq.Messages[1].Content
	for _, want := range []string{
		"[Document 7: Report]",
		"Page 3: total was 42",
		"Page 4: other details",
		"[Document 9: Memo]",
		"Question: what was the total?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSynthesizeNoChunks(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{reply: "should not be called"}
	s := NewWithCompleter(fake, "m")

	got, err := s.Synthesize(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Text != noContextAnswer {
		t.Errorf("answer = %q, want fixed no-context answer", got.Text)
	}
	if len(got.Citations) != 0 {
		t.Errorf("citations = %v, want none", got.Citations)
	}
	if fake.gotReq.Model != "" {
		t.Error("completion was called with no chunks")
	}
	if got.ModelUsed != "m" {
		t.Errorf("model used = %q", got.ModelUsed)
	}
}

func TestSynthesizeProviderFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("rate limited")
	s := NewWithCompleter(&fakeCompleter{err: wantErr}, "m")

	_, err := s.Synthesize(context.Background(), "q", []rag.Scored{chunk("1", "T", 1, 0, "text", 0.5)})
	if !errors.Is(err, wantErr) {
		t.Errorf("Synthesize() error = %v, want provider error", err)
	}
}

func TestBuildCitationsDedupe(t *testing.T) {
	t.Parallel()

	// Two chunks from the same page: the better score wins.
	citations := buildCitations([]rag.Scored{
		chunk("7", "Report", 3, 0, "weaker chunk text", 0.6),
		chunk("7", "Report", 3, 1, "stronger chunk text", 0.8),
		chunk("7", "Report", 5, 2, "another page", 0.7),
	})

	if len(citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(citations))
	}
	if citations[0].Page != 3 || citations[0].Score != 0.8 {
		t.Errorf("best citation = %+v", citations[0])
	}
	if !strings.Contains(citations[0].Snippet, "stronger") {
		t.Errorf("snippet %q should come from the higher-scoring chunk", citations[0].Snippet)
	}
	if citations[1].Page != 5 {
		t.Errorf("second citation = %+v", citations[1])
	}
}

func TestSnippetTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", snippetMaxChars+50)
	got := snippet(long)
	if len(got) != snippetMaxChars+3 {
		t.Errorf("snippet length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("snippet %q not marked as truncated", got[len(got)-10:])
	}

	short := "short text"
	if snippet(short) != short {
		t.Errorf("short snippet modified: %q", snippet(short))
	}

	// The cut counts characters, not bytes: a multi-byte rune straddling the
	// limit must survive intact.
	multi := strings.Repeat("a", snippetMaxChars-1) + "é" + strings.Repeat("b", 50)
	got = snippet(multi)
	if !utf8.ValidString(got) {
		t.Errorf("snippet is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != snippetMaxChars+3 {
		t.Errorf("snippet rune count = %d, want %d", n, snippetMaxChars+3)
	}
	if !strings.HasSuffix(got, "é...") {
		t.Errorf("snippet tail = %q, want the full rune kept", got[len(got)-10:])
	}

	// Under the limit in characters even though over it in bytes.
	wide := strings.Repeat("é", snippetMaxChars)
	if snippet(wide) != wide {
		t.Error("all-multibyte text within the character limit was truncated")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(&Config{Model: "m"}); err == nil {
		t.Error("New() accepted empty API key")
	}
	if _, err := New(&Config{APIKey: "k"}); err == nil {
		t.Error("New() accepted empty model")
	}
	if s, err := New(&Config{APIKey: "k", Model: "m"}); err != nil || s == nil {
		t.Errorf("New() error = %v", err)
	}
}
