package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
)

type stubEmbedder struct {
	lastMode llm.EmbedMode
	err      error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, mode llm.EmbedMode) ([][]float32, error) {
	s.lastMode = mode
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.5, 0.5}
	}
	return vectors, nil
}

type stubStore struct {
	hits     []vectorstore.Hit
	err      error
	lastTopK int
}

func (s *stubStore) EnsureCollection(context.Context, string) error { return nil }

func (s *stubStore) Upsert(context.Context, string, []vectorstore.Document) error { return nil }

func (s *stubStore) Query(_ context.Context, _ string, _ []float32, topK int) ([]vectorstore.Hit, error) {
	s.lastTopK = topK
	return s.hits, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchFormatsHitsBySourceType(t *testing.T) {
	embedder := &stubEmbedder{}
	store := &stubStore{hits: []vectorstore.Hit{
		{Metadata: map[string]any{
			models.MetaSourceType: "markdown",
			models.MetaHeaderText: "Troubleshooting",
			models.MetaPreview:    "restart the agent first",
		}},
		{Metadata: map[string]any{
			models.MetaSourceType: "pdf",
			models.MetaPageNumber: float64(4),
			models.MetaPreview:    "escalation matrix",
		}},
		{Metadata: map[string]any{
			models.MetaSourceType: "chat",
			models.MetaUser:       "U123",
			models.MetaPreview:    "rolled back and recovered",
		}},
	}}

	lines := NewService(embedder, store, 0, testLogger()).Search(context.Background(), "client_documentation", "agent down")

	require.Len(t, lines, 3)
	assert.Equal(t, "From header Troubleshooting: 'restart the agent first'", lines[0])
	assert.Equal(t, "From page 4: 'escalation matrix'", lines[1])
	assert.Equal(t, "From user U123: 'rolled back and recovered'", lines[2])
	assert.Equal(t, llm.ModeQuery, embedder.lastMode)
	assert.Equal(t, DefaultTopK, store.lastTopK)
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	store := &stubStore{err: vectorstore.ErrCollectionNotFound}
	lines := NewService(&stubEmbedder{}, store, 3, testLogger()).Search(context.Background(), "missing", "anything")
	assert.Empty(t, lines)
}

func TestSearchEmbeddingFailureReturnsEmpty(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("provider down")}
	lines := NewService(embedder, &stubStore{}, 3, testLogger()).Search(context.Background(), "client_documentation", "anything")
	assert.Empty(t, lines)
}

func TestSearchFallsBackToTextPreview(t *testing.T) {
	store := &stubStore{hits: []vectorstore.Hit{{
		Text:     "a plain document with no preview metadata",
		Metadata: map[string]any{models.MetaSourceType: "markdown", models.MetaHeaderText: "Notes"},
	}}}

	lines := NewService(&stubEmbedder{}, store, 3, testLogger()).Search(context.Background(), "client_documentation", "q")
	require.Len(t, lines, 1)
	assert.Equal(t, "From header Notes: 'a plain document with no preview metadata'", lines[0])
}
