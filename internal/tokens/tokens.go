// Package tokens provides the tokenizer used for chunking and context
// budgeting. The whole pipeline — chunk boundaries, chunk token counts, and
// the query-time context budget — must agree on a single token definition, so
// a [Codec] is constructed once at startup and injected everywhere.
//
// The production codec is cl100k_base (the tokenizer used by the embedding
// and completion models this system targets), loaded from an embedded
// vocabulary so no network access is required at startup.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Codec converts between text and token IDs. Implementations must be pure:
// identical input always yields identical output, with no hidden state.
// Implementations must be safe to call from multiple goroutines.
type Codec interface {
	// Encode converts text into a sequence of token IDs.
	Encode(text string) []int

	// Decode converts a sequence of token IDs back into text.
	Decode(ids []int) string

	// Count returns the number of tokens in text.
	Count(text string) int
}

// cl100kCodec implements Codec using the cl100k_base BPE encoding.
type cl100kCodec struct {
	enc *tiktoken.Tiktoken
}

// NewCL100K constructs the cl100k_base codec from the embedded vocabulary.
func NewCL100K() (Codec, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokens: load cl100k_base encoding: %w", err)
	}
	return &cl100kCodec{enc: enc}, nil
}

// Encode converts text into cl100k_base token IDs.
func (c *cl100kCodec) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

// Decode converts cl100k_base token IDs back into text.
func (c *cl100kCodec) Decode(ids []int) string {
	return c.enc.Decode(ids)
}

// Count returns the number of cl100k_base tokens in text.
func (c *cl100kCodec) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
