package notify

import (
	"context"
	"errors"

	"github.com/slack-go/slack"

	"github.com/oncallstack/oncall-responder/internal/models"
)

// ErrDeliveryFailed wraps gateway errors that persist after retries.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Message is one outbound notification: plain fallback text plus optional
// Block Kit layout.
type Message struct {
	Text   string
	Blocks []slack.Block
}

// HistoryMessage is one channel message as returned by the gateway's
// history and thread APIs, reduced to the fields the sync job needs.
type HistoryMessage struct {
	User            string
	Text            string
	Timestamp       string
	ThreadTimestamp string
}

// Gateway abstracts the chat provider. Posting returns the thread reference
// that all follow-ups for the same incident must reuse.
type Gateway interface {
	PostMessage(ctx context.Context, channel string, msg Message) (models.ThreadRef, error)
	PostThreadReply(ctx context.Context, thread models.ThreadRef, text string) error
	History(ctx context.Context, channel, cursor string) ([]HistoryMessage, string, error)
	ThreadReplies(ctx context.Context, channel, timestamp string) ([]HistoryMessage, error)
}
