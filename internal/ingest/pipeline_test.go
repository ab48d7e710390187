package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
)

type stubEmbedder struct {
	lastMode llm.EmbedMode
	calls    int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, mode llm.EmbedMode) ([][]float32, error) {
	s.lastMode = mode
	s.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

type stubStore struct {
	collections []string
	upserts     map[string][]vectorstore.Document
}

func newStubStore() *stubStore {
	return &stubStore{upserts: make(map[string][]vectorstore.Document)}
}

func (s *stubStore) EnsureCollection(_ context.Context, name string) error {
	s.collections = append(s.collections, name)
	return nil
}

func (s *stubStore) Upsert(_ context.Context, collection string, docs []vectorstore.Document) error {
	s.upserts[collection] = append(s.upserts[collection], docs...)
	return nil
}

func (s *stubStore) Query(context.Context, string, []float32, int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func newTestPipeline(embedder *stubEmbedder, store *stubStore) *Pipeline {
	collections := Collections{Docs: "client_documentation", Chat: "slack_messages", Code: "code_collection"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(embedder, store, collections, nil, logger)
}

func TestMarkdownOutlineLevelBoundaries(t *testing.T) {
	sections := ParseMarkdownOutline("# A\ntext1\n## B\ntext2\n# C\ntext3")

	require.Len(t, sections, 3)
	assert.Equal(t, Section{Level: 1, Header: "A", Content: "text1"}, sections[0])
	assert.Equal(t, Section{Level: 2, Header: "B", Content: "text2"}, sections[1])
	assert.Equal(t, Section{Level: 1, Header: "C", Content: "text3"}, sections[2])
}

func TestSplitterOverlapInvariant(t *testing.T) {
	text := strings.Repeat("abcdefghij", 60) // 600 characters
	chunks := markdownSplitter.Split(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	for i := 0; i < len(chunks)-1; i++ {
		tail := chunks[i][len(chunks[i])-50:]
		head := chunks[i+1][:50]
		assert.Equal(t, tail, head, "chunks %d and %d must share the overlap", i, i+1)
	}
	assert.LessOrEqual(t, len(chunks[0]), 512)
}

func TestSplitterShortTextPassesThrough(t *testing.T) {
	chunks := markdownSplitter.Split("short section")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short section", chunks[0])
}

func TestIngestMarkdownDeterministicIDs(t *testing.T) {
	embedder := &stubEmbedder{}
	store := newStubStore()
	p := newTestPipeline(embedder, store)
	raw := []byte("# Setup\nInstall the agent.\n# Alerts\nRoute pages to the on-call rotation.")

	first, err := p.Ingest(context.Background(), raw, "runbook.md", models.SourceMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "client_documentation", first.Collection)
	assert.Equal(t, 2, first.Chunks)

	_, err = p.Ingest(context.Background(), raw, "runbook.md", models.SourceMarkdown)
	require.NoError(t, err)

	docs := store.upserts["client_documentation"]
	require.Len(t, docs, 4)
	assert.Equal(t, docs[0].ID, docs[2].ID)
	assert.Equal(t, docs[1].ID, docs[3].ID)
	assert.Equal(t, "runbook.md-0", docs[0].ID)

	assert.Equal(t, llm.ModeDocument, embedder.lastMode)
	assert.Equal(t, "markdown", docs[0].Metadata[models.MetaSourceType])
	assert.Equal(t, "Setup", docs[0].Metadata[models.MetaHeaderText])
	assert.Equal(t, 1, docs[0].Metadata[models.MetaHeaderLevel])
	assert.NotEmpty(t, docs[0].Metadata[models.MetaPreview])
}

func TestIngestPDFPerPage(t *testing.T) {
	store := newStubStore()
	p := newTestPipeline(&stubEmbedder{}, store)
	raw := []byte("first page text\fsecond page text")

	result, err := p.Ingest(context.Background(), raw, "guide.pdf", models.SourcePDF)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chunks)

	docs := store.upserts["client_documentation"]
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Metadata[models.MetaPageNumber])
	assert.Equal(t, 2, docs[1].Metadata[models.MetaPageNumber])
}

func TestIngestCodeUnsupportedExtension(t *testing.T) {
	p := newTestPipeline(&stubEmbedder{}, newStubStore())

	_, err := p.Ingest(context.Background(), []byte("data"), "image.bin", models.SourceCode)
	require.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = p.Ingest(context.Background(), []byte("data"), "Makefile", models.SourceCode)
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestIngestCodeLanguageMetadata(t *testing.T) {
	store := newStubStore()
	p := newTestPipeline(&stubEmbedder{}, store)

	result, err := p.Ingest(context.Background(), []byte("package main\n\nfunc main() {}\n"), "cmd/tool/main.go", models.SourceCode)
	require.NoError(t, err)
	assert.Equal(t, "code_collection", result.Collection)

	docs := store.upserts["code_collection"]
	require.NotEmpty(t, docs)
	assert.Equal(t, "main.go", docs[0].Metadata[models.MetaSourceFile])
	assert.Equal(t, "go", docs[0].Metadata[models.MetaLanguage])
	assert.Equal(t, 0, docs[0].Metadata[models.MetaChunkIndex])
}

func TestSplitCodePrefersDeclarationBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("package demo\n")
	for i := 0; i < 8; i++ {
		b.WriteString("\nfunc handler")
		b.WriteString(strings.Repeat("x", 80))
		b.WriteString("() {\n\treturn\n}\n")
	}
	chunks := splitCode(b.String(), "go")

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, chunk := range chunks[1:] {
		assert.True(t, strings.HasPrefix(chunk, "func "), "chunk should start at a declaration: %q", chunk[:20])
	}
}

func TestChatThreadText(t *testing.T) {
	thread := models.ChatThread{
		User:    "U123",
		Text:    "checkout is throwing 500s",
		Replies: []string{"looking", "rolled back, recovered"},
	}

	text := threadText(thread)
	assert.Equal(t, "From user U123: checkout is throwing 500s\n---REPLIES---\nlooking\nrolled back, recovered", text)

	solo := threadText(models.ChatThread{User: "U9", Text: "deploy done"})
	assert.Equal(t, "From user U9: deploy done", solo)
}

func TestIngestThreadsUsesTimestampIDs(t *testing.T) {
	store := newStubStore()
	p := newTestPipeline(&stubEmbedder{}, store)
	threads := []models.ChatThread{
		{User: "U1", Text: "incident?", Timestamp: "1700000000.000100", Replies: []string{"yes"}},
		{User: "U2", Text: "all clear", Timestamp: "1700000900.000200"},
	}

	result, err := p.IngestThreads(context.Background(), threads, "#on-call")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chunks)

	docs := store.upserts["slack_messages"]
	require.Len(t, docs, 2)
	assert.Equal(t, "1700000000.000100", docs[0].ID)
	assert.Equal(t, "U1", docs[0].Metadata[models.MetaUser])
	assert.Equal(t, 1, docs[0].Metadata[models.MetaReplies])
}

func TestIngestUnknownSourceType(t *testing.T) {
	p := newTestPipeline(&stubEmbedder{}, newStubStore())

	_, err := p.Ingest(context.Background(), []byte("x"), "thing", models.SourceType("spreadsheet"))
	require.ErrorIs(t, err, ErrUnsupportedSourceType)
	assert.Contains(t, err.Error(), "markdown, pdf, code, chat")
}
