// Package answer turns retrieved chunks into a grounded answer: it assembles
// the context block, asks the completion model, and builds the citation list
// that lets a reader verify every claim against the source documents.
package answer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docqa-dev/docqa-go/internal/rag"
)

// Completion model parameters. Low temperature keeps answers close to the
// provided context.
const (
	completionTemperature = 0.2
	completionTopP        = 0.9
	completionMaxTokens   = 1000

	// snippetMaxChars caps the citation snippet length.
	snippetMaxChars = 300

	// defaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	defaultBaseURL = "https://openrouter.ai/api/v1"

	// noContextAnswer is returned when retrieval found nothing relevant.
	// No completion call is made in that case.
	noContextAnswer = "I could not find anything relevant to your question in the indexed documents."
)

// Completer is the slice of the completion client the synthesizer needs.
// *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Citation points a claim in the answer back to a document page.
type Citation struct {
	// DocumentID is the source document ID.
	DocumentID string `json:"doc_id"`
	// Title is the document title.
	Title string `json:"title"`
	// Page is the 1-based page number.
	Page int `json:"page"`
	// Score is the best similarity score among the chunks behind this citation.
	Score float32 `json:"score"`
	// URL links to the document in the source system, when known.
	URL string `json:"url,omitempty"`
	// Snippet is a short excerpt of the cited chunk.
	Snippet string `json:"snippet"`
}

// Answer is a synthesized answer with its citations.
type Answer struct {
	// Text is the model's answer.
	Text string `json:"answer"`
	// Citations back the answer, ordered by descending score.
	Citations []Citation `json:"citations"`
	// Query echoes the question the answer responds to.
	Query string `json:"query"`
	// ModelUsed is the completion model that produced the answer, as
	// reported by the provider.
	ModelUsed string `json:"model_used"`
}

// Config holds the settings for constructing a Synthesizer.
type Config struct {
	// APIKey is the OpenRouter API key.
	APIKey string
	// Model is the completion model identifier (e.g. "openai/gpt-4o-mini").
	Model string
	// BaseURL overrides the OpenRouter endpoint.
	BaseURL string
}

// Synthesizer produces grounded answers from retrieved chunks. It is safe
// for concurrent use.
type Synthesizer struct {
	client Completer
	model  string
}

// New constructs a Synthesizer talking to OpenRouter.
func New(cfg *Config) (*Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("answer: OpenRouter API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("answer: completion model is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	// Completion calls must not hang the read path indefinitely.
	clientCfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	return &Synthesizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// NewWithCompleter constructs a Synthesizer around an existing client.
// Used by tests to inject a fake.
func NewWithCompleter(client Completer, model string) *Synthesizer {
	return &Synthesizer{client: client, model: model}
}

const systemPrompt = `You are a document question-answering assistant.
Answer the user's question using ONLY the provided document excerpts.
Cite the document title and page number for every claim, e.g. (Quarterly Report, p. 3).
If the excerpts do not contain the answer, say so plainly instead of guessing.`

// Synthesize asks the completion model to answer the question from the given
// chunks and assembles the citation list. When chunks is empty no completion
// call is made and a fixed no-context answer is returned. A provider failure
// fails the whole call; no partial answer is produced.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []rag.Scored) (*Answer, error) {
	if len(chunks) == 0 {
		return &Answer{Text: noContextAnswer, Query: question, ModelUsed: s.model}, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: completionTemperature,
		TopP:        completionTopP,
		MaxTokens:   completionMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(question, chunks)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("answer: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("answer: completion returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = s.model
	}
	return &Answer{
		Text:      strings.TrimSpace(resp.Choices[0].Message.Content),
		Citations: buildCitations(chunks),
		Query:     question,
		ModelUsed: model,
	}, nil
}

// buildPrompt renders the question and the context block, grouping chunks by
// document and marking each chunk with its page number.
func buildPrompt(question string, chunks []rag.Scored) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")

	// Group by document, preserving the order in which documents first
	// appear (i.e. by their best-scoring chunk).
	var order []string
	byDoc := make(map[string][]rag.Scored)
	for _, c := range chunks {
		if _, seen := byDoc[c.DocumentID]; !seen {
			order = append(order, c.DocumentID)
		}
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	for _, docID := range order {
		group := byDoc[docID]
		fmt.Fprintf(&b, "[Document %s: %s]\n", docID, group[0].Title)
		for _, c := range group {
			fmt.Fprintf(&b, "Page %d: %s\n", c.Page, c.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// buildCitations deduplicates chunks by (document, page), keeping the best
// score per page, and orders the result by descending score.
func buildCitations(chunks []rag.Scored) []Citation {
	type key struct {
		doc  string
		page int
	}

	best := make(map[key]Citation)
	var order []key
	for _, c := range chunks {
		k := key{doc: c.DocumentID, page: c.Page}
		existing, seen := best[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || c.Score > existing.Score {
			best[k] = Citation{
				DocumentID: c.DocumentID,
				Title:      c.Title,
				Page:       c.Page,
				Score:      c.Score,
				URL:        c.URL,
				Snippet:    snippet(c.Text),
			}
		}
	}

	citations := make([]Citation, 0, len(order))
	for _, k := range order {
		citations = append(citations, best[k])
	}
	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Score > citations[j].Score
	})
	return citations
}

// snippet truncates text to the citation excerpt length, marking the cut.
// The limit counts characters, not bytes, so multi-byte runes are never split.
func snippet(text string) string {
	if len(text) <= snippetMaxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= snippetMaxChars {
		return text
	}
	return string(runes[:snippetMaxChars]) + "..."
}
