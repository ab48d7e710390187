package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage rejects a code file whose extension maps to no
// known language.
var ErrUnsupportedLanguage = errors.New("unsupported source language")

// extensionLanguages maps lowercased file extensions (no dot) to language
// names used for boundary-aware splitting.
var extensionLanguages = map[string]string{
	"cpp": "cpp", "cc": "cpp", "cxx": "cpp", "hpp": "cpp", "hxx": "cpp",
	"go":   "go",
	"java": "java",
	"kt":   "kotlin", "kts": "kotlin",
	"js": "js", "jsx": "js",
	"ts": "ts", "tsx": "ts",
	"php":   "php",
	"proto": "proto",
	"py":    "python",
	"rst":   "rst",
	"rb":    "ruby",
	"rs":    "rust",
	"scala": "scala", "sc": "scala",
	"swift": "swift",
	"md":    "markdown", "markdown": "markdown",
	"tex":  "latex",
	"html": "html", "htm": "html",
	"sol": "sol",
	"cs":  "csharp",
	"cbl": "cobol", "cob": "cobol",
	"c": "c", "h": "c",
	"lua": "lua",
	"pl":  "perl", "pm": "perl",
	"hs": "haskell", "lhs": "haskell",
	"ex": "elixir", "exs": "elixir",
	"ps1": "powershell", "psm1": "powershell", "psd1": "powershell",
	"bas": "visualbasic6", "vb": "visualbasic6",
}

// languageBoundaries lists the top-level declaration markers per language.
// Splitting prefers these syntactic boundaries over arbitrary character
// cuts; languages without an entry fall back to the generic splitter.
var languageBoundaries = map[string][]string{
	"go":     {"\nfunc ", "\ntype ", "\nvar ", "\nconst "},
	"python": {"\nclass ", "\ndef ", "\n\tdef ", "\nasync def "},
	"java":   {"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\nstatic "},
	"js":     {"\nfunction ", "\nclass ", "\nconst ", "\nexport "},
	"ts":     {"\nfunction ", "\nclass ", "\ninterface ", "\nconst ", "\nexport "},
	"c":      {"\nstatic ", "\nstruct ", "\nvoid ", "\nint "},
	"cpp":    {"\nclass ", "\nnamespace ", "\nvoid ", "\ntemplate "},
	"rust":   {"\nfn ", "\npub fn ", "\nimpl ", "\nstruct ", "\nenum "},
	"ruby":   {"\nclass ", "\nmodule ", "\ndef "},
	"php":    {"\nfunction ", "\nclass ", "\npublic function "},
	"kotlin": {"\nfun ", "\nclass ", "\nobject "},
	"scala":  {"\nclass ", "\nobject ", "\ndef ", "\ntrait "},
	"csharp": {"\nclass ", "\nnamespace ", "\npublic ", "\nprivate "},
	"swift":  {"\nfunc ", "\nclass ", "\nstruct ", "\nenum "},
}

// languageForExtension resolves a file extension (with or without a leading
// dot) to a language name.
func languageForExtension(ext string) (string, error) {
	normalized := strings.ToLower(strings.TrimPrefix(ext, "."))
	language, ok := extensionLanguages[normalized]
	if !ok {
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedLanguage, ext)
	}
	return language, nil
}

// splitCode cuts source text preferring declaration boundaries. Segments are
// packed greedily up to the splitter max; a single oversized segment falls
// back to the generic character splitter.
func splitCode(text, language string) []string {
	runes := []rune(text)
	if len(runes) <= codeSplitter.Max {
		if len(runes) == 0 {
			return nil
		}
		return []string{text}
	}

	boundaries, ok := languageBoundaries[language]
	if !ok {
		return codeSplitter.Split(text)
	}

	segments := splitAtBoundaries(text, boundaries)

	var chunks []string
	var pending strings.Builder
	flush := func() {
		if pending.Len() > 0 {
			chunks = append(chunks, pending.String())
			pending.Reset()
		}
	}
	for _, segment := range segments {
		if len([]rune(segment)) > codeSplitter.Max {
			flush()
			chunks = append(chunks, codeSplitter.Split(segment)...)
			continue
		}
		if pending.Len() > 0 && len([]rune(pending.String()))+len([]rune(segment)) > codeSplitter.Max {
			flush()
		}
		pending.WriteString(segment)
	}
	flush()
	return chunks
}

// splitAtBoundaries cuts text immediately before each boundary marker so
// every declaration starts its own segment.
func splitAtBoundaries(text string, boundaries []string) []string {
	segments := []string{text}
	for _, boundary := range boundaries {
		var next []string
		for _, segment := range segments {
			start := 0
			for {
				idx := strings.Index(segment[start+1:], boundary)
				if idx < 0 {
					break
				}
				cut := start + 1 + idx + 1
				next = append(next, segment[:cut])
				segment = segment[cut:]
				start = 0
			}
			next = append(next, segment)
		}
		segments = next
	}
	return segments
}
