package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/metrics"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
)

// ErrUnsupportedSourceType rejects an ingestion request whose source type
// is not one of markdown, pdf, code or chat.
var ErrUnsupportedSourceType = errors.New("unsupported source type")

// Collections names the vector store collection per knowledge domain.
type Collections struct {
	Docs string
	Chat string
	Code string
}

// Result reports what one successful ingestion produced.
type Result struct {
	Collection string
	Chunks     int
}

// Pipeline turns raw source bytes into embedded chunks in the vector store.
// A failure ingesting one source never affects its batch siblings; callers
// submit sources independently.
type Pipeline struct {
	embedder    llm.Embedder
	store       vectorstore.Store
	collections Collections
	extractor   TextExtractor
	logger      *slog.Logger
}

// NewPipeline wires an ingestion pipeline. A nil extractor selects the
// plain-text page extractor.
func NewPipeline(embedder llm.Embedder, store vectorstore.Store, collections Collections, extractor TextExtractor, logger *slog.Logger) *Pipeline {
	if extractor == nil {
		extractor = PlainTextExtractor{}
	}
	return &Pipeline{
		embedder:    embedder,
		store:       store,
		collections: collections,
		extractor:   extractor,
		logger:      logger,
	}
}

// Ingest chunks, embeds and upserts one source. sourceID identifies the
// source (file name, channel name); chunk ids derive from it so repeated
// ingestion of the same source overwrites rather than duplicates.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, sourceID string, sourceType models.SourceType) (Result, error) {
	var (
		chunks     []models.Chunk
		collection string
		err        error
	)

	switch sourceType {
	case models.SourceMarkdown:
		collection = p.collections.Docs
		chunks = chunkMarkdown(string(raw))
	case models.SourcePDF:
		collection = p.collections.Docs
		chunks, err = p.chunkPDF(raw)
	case models.SourceCode:
		collection = p.collections.Code
		chunks, err = chunkCode(string(raw), sourceID)
	case models.SourceChat:
		collection = p.collections.Chat
		chunks, err = chunkChatJSON(raw)
	default:
		err = fmt.Errorf("%w: %q (accepted: markdown, pdf, code, chat)", ErrUnsupportedSourceType, sourceType)
	}
	if err != nil {
		metrics.ObserveIngestFailure(string(sourceType))
		return Result{}, err
	}
	if len(chunks) == 0 {
		p.logger.Info("source produced no chunks", "source", sourceID, "source_type", sourceType)
		return Result{Collection: collection}, nil
	}

	finalize(chunks, sourceID, sourceType)

	if err := p.index(ctx, collection, chunks); err != nil {
		metrics.ObserveIngestFailure(string(sourceType))
		return Result{}, err
	}

	metrics.ObserveIngest(string(sourceType), len(chunks))
	p.logger.Info("ingested source",
		"source", sourceID,
		"source_type", sourceType,
		"collection", collection,
		"chunks", len(chunks))
	return Result{Collection: collection, Chunks: len(chunks)}, nil
}

// IngestThreads ingests chat threads directly, used by the history sync job.
func (p *Pipeline) IngestThreads(ctx context.Context, threads []models.ChatThread, sourceID string) (Result, error) {
	chunks := chunkThreads(threads)
	if len(chunks) == 0 {
		return Result{Collection: p.collections.Chat}, nil
	}
	finalize(chunks, sourceID, models.SourceChat)
	if err := p.index(ctx, p.collections.Chat, chunks); err != nil {
		metrics.ObserveIngestFailure(string(models.SourceChat))
		return Result{}, err
	}
	metrics.ObserveIngest(string(models.SourceChat), len(chunks))
	return Result{Collection: p.collections.Chat, Chunks: len(chunks)}, nil
}

// finalize stamps deterministic ids and the shared metadata fields. Chunkers
// may pre-assign ids (chat threads use their timestamp as position).
func finalize(chunks []models.Chunk, sourceID string, sourceType models.SourceType) {
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = fmt.Sprintf("%s-%d", sourceID, i)
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]any)
		}
		chunks[i].Metadata[models.MetaSourceType] = string(sourceType)
		chunks[i].Metadata[models.MetaPreview] = models.Preview(chunks[i].Text)
	}
}

// index embeds every chunk text in one batched document-mode call and
// upserts the results into the collection.
func (p *Pipeline) index(ctx context.Context, collection string, chunks []models.Chunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts, llm.ModeDocument)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(chunks), len(vectors))
	}

	if err := p.store.EnsureCollection(ctx, collection); err != nil {
		return fmt.Errorf("ensure collection %s: %w", collection, err)
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vectorstore.Document{
			ID:       chunk.ID,
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
			Vector:   vectors[i],
		}
	}
	if err := p.store.Upsert(ctx, collection, docs); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

func chunkMarkdown(text string) []models.Chunk {
	var chunks []models.Chunk
	for _, section := range ParseMarkdownOutline(text) {
		if section.Content == "" {
			continue
		}
		for _, piece := range markdownSplitter.Split(section.Content) {
			chunks = append(chunks, models.Chunk{
				Text: piece,
				Metadata: map[string]any{
					models.MetaHeaderLevel: section.Level,
					models.MetaHeaderText:  section.Header,
				},
			})
		}
	}
	return chunks
}

func (p *Pipeline) chunkPDF(raw []byte) ([]models.Chunk, error) {
	pages, err := p.extractor.ExtractPages(raw)
	if err != nil {
		return nil, fmt.Errorf("extract pages: %w", err)
	}
	var chunks []models.Chunk
	for pageIdx, page := range pages {
		for _, piece := range pdfSplitter.Split(page) {
			chunks = append(chunks, models.Chunk{
				Text: piece,
				Metadata: map[string]any{
					models.MetaPageNumber: pageIdx + 1,
				},
			})
		}
	}
	return chunks, nil
}

func chunkCode(text, sourceID string) ([]models.Chunk, error) {
	fileName := path.Base(sourceID)
	ext := path.Ext(fileName)
	if ext == "" {
		return nil, fmt.Errorf("%w: no file extension on %q", ErrUnsupportedLanguage, sourceID)
	}
	language, err := languageForExtension(ext)
	if err != nil {
		return nil, err
	}

	pieces := splitCode(text, language)
	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, models.Chunk{
			Text: piece,
			Metadata: map[string]any{
				models.MetaSourceFile: fileName,
				models.MetaChunkIndex: i,
				models.MetaLanguage:   language,
			},
		})
	}
	return chunks, nil
}

func chunkChatJSON(raw []byte) ([]models.Chunk, error) {
	var threads []models.ChatThread
	if err := json.Unmarshal(raw, &threads); err != nil {
		return nil, fmt.Errorf("parse chat transcript: %w", err)
	}
	return chunkThreads(threads), nil
}

func chunkThreads(threads []models.ChatThread) []models.Chunk {
	var chunks []models.Chunk
	for _, thread := range threads {
		text := threadText(thread)
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunk := models.Chunk{
			Text: text,
			Metadata: map[string]any{
				models.MetaUser:    thread.User,
				models.MetaReplies: len(thread.Replies),
			},
		}
		if thread.Timestamp != "" {
			chunk.ID = thread.Timestamp
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
