package chunker

import (
	"strings"
	"testing"

	"github.com/docqa-dev/docqa-go/internal/extract"
)

// wordCodec is a whitespace tokenizer for tests: one token per word.
type wordCodec struct {
	vocab map[string]int
	words []string
}

func newWordCodec() *wordCodec {
	return &wordCodec{vocab: make(map[string]int)}
}

func (c *wordCodec) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, w := range fields {
		id, ok := c.vocab[w]
		if !ok {
			id = len(c.words)
			c.vocab[w] = id
			c.words = append(c.words, w)
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *wordCodec) Decode(ids []int) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = c.words[id]
	}
	return strings.Join(words, " ")
}

func (c *wordCodec) Count(text string) int {
	return len(strings.Fields(text))
}

func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "w" + strings.Repeat("x", i%3) + string(rune('a'+i%26))
	}
	// Make every word unique so reconstruction checks are unambiguous.
	for i := range words {
		words[i] = words[i] + "_" + itoa(i)
	}
	return strings.Join(words, " ")
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 800, 120, false},
		{"zero overlap", 10, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals size", 10, 10, true},
		{"overlap above size", 10, 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(newWordCodec(), tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%d, %d) error = %v, wantErr %v", tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplitReconstruction(t *testing.T) {
	t.Parallel()

	// With zero overlap the windows partition the page exactly.
	c, err := New(newWordCodec(), 5, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := numberedWords(23)
	chunks := c.Split("doc-1", []extract.Page{{Number: 1, Text: text}})

	var parts []string
	for _, chunk := range chunks {
		parts = append(parts, chunk.Text)
	}
	if got := strings.Join(parts, " "); got != text {
		t.Errorf("reconstructed text = %q, want %q", got, text)
	}
	if len(chunks) != 5 {
		t.Errorf("chunk count = %d, want 5", len(chunks))
	}
	if last := chunks[len(chunks)-1]; last.TokenCount != 3 {
		t.Errorf("trailing chunk tokens = %d, want 3", last.TokenCount)
	}
}

func TestSplitOverlap(t *testing.T) {
	t.Parallel()

	c, err := New(newWordCodec(), 4, 1)
	if err != nil {
		t.Fatal(err)
	}

	text := numberedWords(10)
	chunks := c.Split("doc-1", []extract.Page{{Number: 1, Text: text}})

	// Step is 3, so windows start at tokens 0, 3 and 6; the third window
	// reaches the end of the page and is the last one emitted.
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	words := strings.Fields(text)
	for i, chunk := range chunks {
		start := i * 3
		end := start + 4
		if end > len(words) {
			end = len(words)
		}
		want := strings.Join(words[start:end], " ")
		if chunk.Text != want {
			t.Errorf("chunk %d text = %q, want %q", i, chunk.Text, want)
		}
		if chunk.TokenCount > 4 {
			t.Errorf("chunk %d tokens = %d, exceeds window size", i, chunk.TokenCount)
		}
	}
}

func TestSplitPageBoundaries(t *testing.T) {
	t.Parallel()

	c, err := New(newWordCodec(), 5, 2)
	if err != nil {
		t.Fatal(err)
	}

	pages := []extract.Page{
		{Number: 1, Text: "a1 a2 a3 a4 a5 a6 a7"},
		{Number: 3, Text: "b1 b2"},
	}
	chunks := c.Split("doc-1", pages)

	for i, chunk := range chunks {
		if chunk.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d, want %d", i, chunk.Ordinal, i)
		}
		if strings.Contains(chunk.Text, "a") && strings.Contains(chunk.Text, "b") {
			t.Errorf("chunk %d spans pages: %q", i, chunk.Text)
		}
	}

	last := chunks[len(chunks)-1]
	if last.Page != 3 {
		t.Errorf("last chunk page = %d, want 3", last.Page)
	}
	if last.Text != "b1 b2" {
		t.Errorf("last chunk text = %q, want %q", last.Text, "b1 b2")
	}
}

func TestSplitEmptyPages(t *testing.T) {
	t.Parallel()

	c, err := New(newWordCodec(), 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if chunks := c.Split("doc-1", nil); len(chunks) != 0 {
		t.Errorf("Split(nil pages) = %d chunks, want 0", len(chunks))
	}
}

func TestChunkIdentityDeterministic(t *testing.T) {
	t.Parallel()

	pages := []extract.Page{{Number: 1, Text: numberedWords(12)}}

	c1, _ := New(newWordCodec(), 5, 1)
	c2, _ := New(newWordCodec(), 5, 1)
	first := c1.Split("doc-1", pages)
	second := c2.Split("doc-1", pages)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d ID not deterministic: %q vs %q", i, first[i].ID, second[i].ID)
		}
		if first[i].Hash != second[i].Hash {
			t.Errorf("chunk %d hash not deterministic", i)
		}
	}

	if DocumentHash(first) != DocumentHash(second) {
		t.Error("document hash not deterministic")
	}
}

func TestChunkIdentityVaries(t *testing.T) {
	t.Parallel()

	c, _ := New(newWordCodec(), 5, 0)
	pages := []extract.Page{{Number: 1, Text: "alpha beta gamma"}}

	base := c.Split("doc-1", pages)
	otherDoc := c.Split("doc-2", pages)
	otherText := c.Split("doc-1", []extract.Page{{Number: 1, Text: "alpha beta delta"}})

	if base[0].ID == otherDoc[0].ID {
		t.Error("chunk ID did not vary with document ID")
	}
	if base[0].ID == otherText[0].ID {
		t.Error("chunk ID did not vary with content")
	}
	if DocumentHash(base) == DocumentHash(otherText) {
		t.Error("document hash did not vary with content")
	}
}
