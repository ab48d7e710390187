package ingest

// Splitter cuts oversized text into fixed-size chunks with a trailing
// overlap carried into the next chunk. Text at or under Max passes through
// as a single chunk.
type Splitter struct {
	Max     int
	Overlap int
}

// Markdown-section and PDF-page splitter sizes.
var (
	markdownSplitter = Splitter{Max: 512, Overlap: 50}
	pdfSplitter      = Splitter{Max: 1024, Overlap: 120}
	codeSplitter     = Splitter{Max: 512, Overlap: 50}
)

// Split returns the chunks of text. The invariant: consecutive chunks share
// exactly Overlap characters, so chunk starts advance by Max-Overlap.
func (s Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.Max {
		if len(runes) == 0 {
			return nil
		}
		return []string{text}
	}

	step := s.Max - s.Overlap
	if step <= 0 {
		step = s.Max
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.Max
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
