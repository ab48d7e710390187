package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/oncallstack/oncall-responder/internal/models"
)

// SlackGateway implements Gateway over the Slack Web API. Rate-limited
// calls retry up to maxRetries times, sleeping for the provider-supplied
// backoff interval.
type SlackGateway struct {
	client     *slack.Client
	maxRetries int
	logger     *slog.Logger
}

// NewSlackGateway builds a gateway for the given bot token. apiURL
// overrides the Slack endpoint for the localdev mock stack; empty selects
// the public API.
func NewSlackGateway(token, apiURL string, maxRetries int, logger *slog.Logger) *SlackGateway {
	opts := []slack.Option{}
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &SlackGateway{
		client:     slack.New(token, opts...),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// PostMessage posts a channel message and returns its thread reference.
func (g *SlackGateway) PostMessage(ctx context.Context, channel string, msg Message) (models.ThreadRef, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}

	var thread models.ThreadRef
	err := g.withRetry(ctx, "post message", func() error {
		postedChannel, timestamp, err := g.client.PostMessageContext(ctx, channel, opts...)
		if err != nil {
			return err
		}
		thread = models.ThreadRef{Channel: postedChannel, Timestamp: timestamp}
		return nil
	})
	if err != nil {
		return models.ThreadRef{}, err
	}
	return thread, nil
}

// PostThreadReply posts text as a threaded reply under an earlier message.
func (g *SlackGateway) PostThreadReply(ctx context.Context, thread models.ThreadRef, text string) error {
	if thread.IsZero() {
		return fmt.Errorf("%w: no thread reference", ErrDeliveryFailed)
	}
	return g.withRetry(ctx, "post thread reply", func() error {
		_, _, err := g.client.PostMessageContext(ctx, thread.Channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionTS(thread.Timestamp))
		return err
	})
}

// History returns one page of channel history plus the cursor for the next
// page; an empty cursor means the history is exhausted.
func (g *SlackGateway) History(ctx context.Context, channel, cursor string) ([]HistoryMessage, string, error) {
	var (
		messages   []HistoryMessage
		nextCursor string
	)
	err := g.withRetry(ctx, "read history", func() error {
		resp, err := g.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channel,
			Cursor:    cursor,
			Limit:     200,
		})
		if err != nil {
			return err
		}
		messages = fromSlackMessages(resp.Messages)
		nextCursor = ""
		if resp.HasMore {
			nextCursor = resp.ResponseMetaData.NextCursor
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return messages, nextCursor, nil
}

// ThreadReplies returns every message of a thread, parent first.
func (g *SlackGateway) ThreadReplies(ctx context.Context, channel, timestamp string) ([]HistoryMessage, error) {
	var all []HistoryMessage
	cursor := ""
	for {
		var (
			page       []slack.Message
			hasMore    bool
			nextCursor string
		)
		err := g.withRetry(ctx, "read thread replies", func() error {
			msgs, more, next, err := g.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channel,
				Timestamp: timestamp,
				Cursor:    cursor,
			})
			if err != nil {
				return err
			}
			page, hasMore, nextCursor = msgs, more, next
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, fromSlackMessages(page)...)
		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	return all, nil
}

// withRetry runs call, retrying on rate-limit responses with the
// provider-supplied backoff. Other errors fail immediately.
func (g *SlackGateway) withRetry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		err = call()
		if err == nil {
			return nil
		}

		var rateLimited *slack.RateLimitedError
		if !errors.As(err, &rateLimited) {
			return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, op, err)
		}
		if attempt == g.maxRetries {
			break
		}

		g.logger.Warn("rate limited, backing off",
			"op", op,
			"retry_after", rateLimited.RetryAfter,
			"attempt", attempt+1)
		select {
		case <-time.After(rateLimited.RetryAfter):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, op, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %s: rate limited after %d retries: %v", ErrDeliveryFailed, op, g.maxRetries, err)
}

func fromSlackMessages(msgs []slack.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, HistoryMessage{
			User:            msg.User,
			Text:            msg.Text,
			Timestamp:       msg.Timestamp,
			ThreadTimestamp: msg.ThreadTimestamp,
		})
	}
	return out
}
