package ingest

import "strings"

// TextExtractor turns raw document bytes into per-page text. Real PDF or
// docx parsing plugs in here; the pipeline only needs the page sequence.
type TextExtractor interface {
	ExtractPages(raw []byte) ([]string, error)
}

// PlainTextExtractor treats the input as already-extracted text with pages
// delimited by form feeds. Input without form feeds is a single page.
type PlainTextExtractor struct{}

// ExtractPages splits on form-feed characters and drops blank pages.
func (PlainTextExtractor) ExtractPages(raw []byte) ([]string, error) {
	parts := strings.Split(string(raw), "\f")
	pages := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pages = append(pages, part)
	}
	return pages, nil
}
