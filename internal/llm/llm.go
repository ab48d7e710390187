package llm

import (
	"context"
	"errors"
)

// EmbedMode selects the embedding task. Documents are embedded in document
// mode at ingest time and queries in query mode at search time; the scheme
// is asymmetric on purpose and mixing modes degrades recall.
type EmbedMode string

const (
	// ModeDocument embeds text for storage in a collection.
	ModeDocument EmbedMode = "document"
	// ModeQuery embeds text for similarity search against a collection.
	ModeQuery EmbedMode = "query"
)

// ErrGenerationUnavailable signals that the text-generation provider failed.
// The summarization step treats it as terminal and posts a degraded notice.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Generator produces free text from a prompt.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Embedder maps texts to fixed-dimension vectors. All texts in one call are
// embedded with the same mode and model, so the result vectors share one
// dimensionality.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)
}
