package server

import (
	"context"
	"fmt"

	"github.com/docqa-dev/docqa-go/internal/rag"
)

// pingable matches any dependency exposing a Ping method. *source.Client,
// rag.VectorStore and *state.Store all satisfy it.
type pingable interface {
	Ping(ctx context.Context) error
}

// DependencyPinger wraps a pipeline dependency so it can be probed by
// GET /api/ready under a stable label.
type DependencyPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// dep is the probed dependency.
	dep pingable
}

// NewDependencyPinger constructs a DependencyPinger for the given dependency.
func NewDependencyPinger(name string, dep pingable) *DependencyPinger {
	return &DependencyPinger{name: name, dep: dep}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping probes the wrapped dependency.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// EmbedderPinger probes the embedding backend by embedding a single short
// string. Hosted backends bill the probe, so keep the readiness poll interval
// modest.
type EmbedderPinger struct {
	emb rag.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder.
func NewEmbedderPinger(emb rag.Embedder) *EmbedderPinger {
	return &EmbedderPinger{emb: emb}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping sends a one-word embedding request to the backend.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := p.emb.Embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embed probe failed: %w", err)
	}
	return nil
}

// CompletionConfigPinger reports whether the completion provider is
// configured. It never makes a network call: completions are billed per
// request, so readiness only asserts that a key is present.
type CompletionConfigPinger struct {
	configured bool
}

// NewCompletionConfigPinger constructs a pinger that fails while apiKey is
// empty.
func NewCompletionConfigPinger(apiKey string) *CompletionConfigPinger {
	return &CompletionConfigPinger{configured: apiKey != ""}
}

// Name returns the dependency label used in readiness responses.
func (p *CompletionConfigPinger) Name() string { return "completion" }

// Ping reports the configuration state.
func (p *CompletionConfigPinger) Ping(context.Context) error {
	if !p.configured {
		return fmt.Errorf("completion provider not configured: OPENROUTER_API_KEY is unset")
	}
	return nil
}
