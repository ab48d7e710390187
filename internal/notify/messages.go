package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/runbooks"
)

// InitialMessage builds the first notification for an alert delivery. The
// firing variant carries the label summary, any registered runbook and
// dashboard links for the affected service, and an "investigating" note;
// the resolved variant is a single confirmation header.
func InitialMessage(payload models.WebhookPayload, registry *runbooks.Registry) Message {
	if payload.Status == models.StatusResolved {
		header := fmt.Sprintf("✅ Issue Resolved: %s", payload.GroupName())
		return Message{
			Text:   header,
			Blocks: []slack.Block{slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false))},
		}
	}

	header := fmt.Sprintf("🔥 %d Prometheus Alert(s): Firing", len(payload.Alerts))
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Group Labels:*\n`%s`", formatLabels(payload.GroupLabels)), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Common Labels:*\n`%s`", formatLabels(payload.CommonLabels)), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Common Annotations:*\n`%s`", formatLabels(payload.CommonAnnotations)), false, false),
		}, nil),
	}

	if service, ok := registry.Lookup(serviceLabel(payload)); ok {
		blocks = append(blocks, slack.NewDividerBlock())
		if len(service.Runbooks) > 0 {
			blocks = append(blocks, linkSection("📖 *Relevant Runbooks*", service.Runbooks))
		}
		if len(service.Dashboards) > 0 {
			blocks = append(blocks, linkSection("📊 *Relevant Dashboards*", service.Dashboards))
		}
	}

	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "🔎 I am now investigating this alert...", false, false)),
	)

	return Message{
		Text:   fmt.Sprintf("%d alert(s) firing: %s", len(payload.Alerts), payload.GroupName()),
		Blocks: blocks,
	}
}

// SummaryReply prefixes the generated incident summary for thread posting.
func SummaryReply(summary string) string {
	return "📋 *Incident summary*\n" + summary
}

// ContextReply renders retrieval hits as one threaded follow-up.
func ContextReply(title string, lines []string) string {
	var b strings.Builder
	b.WriteString(title)
	for _, line := range lines {
		b.WriteString("\n• ")
		b.WriteString(line)
	}
	return b.String()
}

// DegradedMessage is posted when summary generation fails so responders
// know no automated investigation follows.
func DegradedMessage() string {
	return "⚠️ Unable to generate a summary for this incident; please investigate the alerts directly."
}

// serviceLabel picks the service label the runbook registry keys on.
func serviceLabel(payload models.WebhookPayload) string {
	if v := payload.CommonLabels["service"]; v != "" {
		return v
	}
	return payload.GroupLabels["service"]
}

func linkSection(title string, links []runbooks.Link) slack.Block {
	lines := make([]string, 0, len(links)+1)
	lines = append(lines, title)
	for _, link := range links {
		lines = append(lines, fmt.Sprintf("• <%s|%s>", link.URL, link.Name))
	}
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil)
}

// formatLabels renders a label mapping deterministically, sorted by key.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return strings.Join(pairs, ", ")
}
