package ingest

import (
	"bufio"
	"strings"
)

// Section is one heading-delimited region of a markdown document. A heading
// at level 1-3 opens a section that absorbs following non-heading lines
// until a heading of equal or shallower level; a deeper heading opens its
// own section, so nesting flattens into a sequence.
type Section struct {
	Level   int
	Header  string
	Content string
}

// ParseMarkdownOutline extracts the heading outline of a markdown document.
// Text before the first heading is not indexed; headings deeper than level
// 3 are treated as plain content.
func ParseMarkdownOutline(text string) []Section {
	var sections []Section
	var current *Section
	var content []string

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(content, "\n"))
		sections = append(sections, *current)
		current = nil
		content = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		level, header, ok := parseHeading(line)
		if !ok {
			if current != nil {
				content = append(content, line)
			}
			continue
		}
		flush()
		current = &Section{Level: level, Header: header}
	}
	flush()
	return sections
}

// parseHeading recognizes ATX headings at levels 1-3.
func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 3 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
		return 0, "", false
	}
	return level, strings.TrimSpace(rest), true
}
