package chatsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oncallstack/oncall-responder/internal/ingest"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/notify"
)

// ThreadIngestor is the slice of the ingestion pipeline the syncer needs.
type ThreadIngestor interface {
	IngestThreads(ctx context.Context, threads []models.ChatThread, sourceID string) (ingest.Result, error)
}

// Syncer walks a channel's full history, folds threaded conversations into
// single transcripts and feeds them to the ingestion pipeline. Thread
// timestamps key the chunks, so repeated syncs overwrite instead of
// accumulating duplicates.
type Syncer struct {
	gateway  notify.Gateway
	pipeline ThreadIngestor
	channel  string
	logger   *slog.Logger
}

// New builds a syncer for one channel.
func New(gateway notify.Gateway, pipeline ThreadIngestor, channel string, logger *slog.Logger) *Syncer {
	return &Syncer{gateway: gateway, pipeline: pipeline, channel: channel, logger: logger}
}

// Sync pages through the channel history and ingests every conversation
// thread. A failure reading one thread skips that thread only.
func (s *Syncer) Sync(ctx context.Context) error {
	var (
		threads []models.ChatThread
		seen    = make(map[string]bool)
		cursor  string
	)

	for {
		messages, nextCursor, err := s.gateway.History(ctx, s.channel, cursor)
		if err != nil {
			return fmt.Errorf("read history of %s: %w", s.channel, err)
		}

		for _, message := range messages {
			if message.ThreadTimestamp == "" {
				threads = append(threads, models.ChatThread{
					User:      message.User,
					Text:      message.Text,
					Timestamp: message.Timestamp,
				})
				continue
			}
			if seen[message.ThreadTimestamp] {
				continue
			}
			seen[message.ThreadTimestamp] = true

			thread, err := s.collectThread(ctx, message.ThreadTimestamp)
			if err != nil {
				s.logger.Warn("skipping unreadable thread",
					"channel", s.channel,
					"thread_ts", message.ThreadTimestamp,
					"error", err)
				continue
			}
			if thread != nil {
				threads = append(threads, *thread)
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	if len(threads) == 0 {
		s.logger.Info("no messages to sync", "channel", s.channel)
		return nil
	}

	result, err := s.pipeline.IngestThreads(ctx, threads, s.channel)
	if err != nil {
		return fmt.Errorf("ingest %d threads from %s: %w", len(threads), s.channel, err)
	}
	s.logger.Info("chat history synced",
		"channel", s.channel,
		"threads", len(threads),
		"chunks", result.Chunks,
		"collection", result.Collection)
	return nil
}

// collectThread resolves one thread into a transcript: parent message plus
// the reply texts in order.
func (s *Syncer) collectThread(ctx context.Context, threadTS string) (*models.ChatThread, error) {
	messages, err := s.gateway.ThreadReplies(ctx, s.channel, threadTS)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	parent := messages[0]
	replies := make([]string, 0, len(messages)-1)
	for _, reply := range messages[1:] {
		replies = append(replies, reply.Text)
	}
	return &models.ChatThread{
		User:      parent.User,
		Text:      parent.Text,
		Timestamp: parent.Timestamp,
		Replies:   replies,
	}, nil
}
