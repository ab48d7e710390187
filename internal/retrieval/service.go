package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/metrics"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
)

// DefaultTopK bounds similarity results when no override is configured.
const DefaultTopK = 3

// Service answers free-text queries against a vector store collection.
// Retrieval is always best-effort: a missing collection, embedding failure
// or store error yields an empty result, never an error to the caller.
type Service struct {
	embedder llm.Embedder
	store    vectorstore.Store
	topK     int
	logger   *slog.Logger
}

// NewService builds a retrieval service. topK <= 0 selects DefaultTopK.
func NewService(embedder llm.Embedder, store vectorstore.Store, topK int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{embedder: embedder, store: store, topK: topK, logger: logger}
}

// Search embeds the query in query mode, runs a top-K similarity lookup and
// renders each hit as one human-readable line.
func (s *Service) Search(ctx context.Context, collection, query string) []string {
	vectors, err := s.embedder.Embed(ctx, []string{query}, llm.ModeQuery)
	if err != nil || len(vectors) == 0 {
		s.logger.Warn("query embedding failed", "collection", collection, "error", err)
		metrics.ObserveRetrieval(collection, metrics.OutcomeError)
		return nil
	}

	hits, err := s.store.Query(ctx, collection, vectors[0], s.topK)
	if err != nil {
		s.logger.Warn("similarity query failed", "collection", collection, "error", err)
		metrics.ObserveRetrieval(collection, metrics.OutcomeError)
		return nil
	}

	metrics.ObserveRetrieval(collection, metrics.OutcomeSuccess)
	lines := make([]string, 0, len(hits))
	for _, hit := range hits {
		lines = append(lines, formatHit(hit))
	}
	return lines
}

// formatHit renders one hit per its source type. Metadata decoded from the
// store arrives as generic JSON values, so numbers may be float64.
func formatHit(hit vectorstore.Hit) string {
	preview := metaString(hit.Metadata, models.MetaPreview)
	if preview == "" {
		preview = models.Preview(hit.Text)
	}

	switch metaString(hit.Metadata, models.MetaSourceType) {
	case string(models.SourceMarkdown):
		return fmt.Sprintf("From header %s: '%s'", metaString(hit.Metadata, models.MetaHeaderText), preview)
	case string(models.SourcePDF):
		return fmt.Sprintf("From page %d: '%s'", metaInt(hit.Metadata, models.MetaPageNumber), preview)
	case string(models.SourceChat):
		return fmt.Sprintf("From user %s: '%s'", metaString(hit.Metadata, models.MetaUser), preview)
	case string(models.SourceCode):
		return fmt.Sprintf("From file %s: '%s'", metaString(hit.Metadata, models.MetaSourceFile), preview)
	default:
		return fmt.Sprintf("'%s'", preview)
	}
}

func metaString(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
