package ingest

import (
	"strings"

	"github.com/oncallstack/oncall-responder/internal/models"
)

const replySeparator = "---REPLIES---"

// threadText renders one conversation thread as a single embeddable string:
// the parent message, then all replies under a fixed separator.
func threadText(thread models.ChatThread) string {
	var b strings.Builder
	b.WriteString("From user ")
	b.WriteString(thread.User)
	b.WriteString(": ")
	b.WriteString(thread.Text)
	if len(thread.Replies) > 0 {
		b.WriteString("\n")
		b.WriteString(replySeparator)
		b.WriteString("\n")
		b.WriteString(strings.Join(thread.Replies, "\n"))
	}
	return b.String()
}
