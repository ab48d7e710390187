package models

// SourceType discriminates the kinds of knowledge source the ingestion
// pipeline understands. Dispatch happens on this tag, never on runtime type
// inspection of the payload.
type SourceType string

const (
	SourceMarkdown SourceType = "markdown"
	SourcePDF      SourceType = "pdf"
	SourceCode     SourceType = "code"
	SourceChat     SourceType = "chat"
)

// Metadata keys shared across chunk source types.
const (
	MetaSourceType  = "sourceType"
	MetaPreview     = "preview"
	MetaHeaderLevel = "headerLevel"
	MetaHeaderText  = "headerText"
	MetaPageNumber  = "pageNumber"
	MetaSourceFile  = "sourceFile"
	MetaChunkIndex  = "chunkIndex"
	MetaLanguage    = "language"
	MetaUser        = "user"
	MetaReplies     = "replies"
)

// PreviewLimit bounds the preview metadata string.
const PreviewLimit = 75

// Chunk is the atomic unit of semantic indexing: a bounded span of text
// plus the metadata needed to render a retrieval hit back to a human.
// IDs are deterministic ({sourceIdentity}-{index}) so re-ingesting a source
// overwrites prior chunks instead of duplicating them.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Preview truncates text to the preview limit for hit rendering.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit])
}

// ChatThread is one conversation thread pulled from chat history: a parent
// message plus its replies, ingested as a single chunk.
type ChatThread struct {
	User      string   `json:"user"`
	Text      string   `json:"text"`
	Timestamp string   `json:"ts"`
	Replies   []string `json:"replies"`
}
