package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallstack/oncall-responder/internal/cache"
	"github.com/oncallstack/oncall-responder/internal/correlate"
	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/notify"
	"github.com/oncallstack/oncall-responder/internal/retrieval"
	"github.com/oncallstack/oncall-responder/internal/runbooks"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
)

type fakeGateway struct {
	mu          sync.Mutex
	posts       []notify.Message
	replies     []string
	failReplies bool
}

func (g *fakeGateway) PostMessage(_ context.Context, _ string, msg notify.Message) (models.ThreadRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts = append(g.posts, msg)
	return models.ThreadRef{Channel: "C1", Timestamp: fmt.Sprintf("170000000%d.000100", len(g.posts))}, nil
}

func (g *fakeGateway) PostThreadReply(_ context.Context, thread models.ThreadRef, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failReplies {
		return notify.ErrDeliveryFailed
	}
	g.replies = append(g.replies, thread.Timestamp+"|"+text)
	return nil
}

func (g *fakeGateway) History(context.Context, string, string) ([]notify.HistoryMessage, string, error) {
	return nil, "", nil
}

func (g *fakeGateway) ThreadReplies(context.Context, string, string) ([]notify.HistoryMessage, error) {
	return nil, nil
}

func (g *fakeGateway) snapshot() (posts []notify.Message, replies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Message(nil), g.posts...), append([]string(nil), g.replies...)
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) GenerateText(context.Context, string) (string, error) {
	return f.text, f.err
}

type fakeVectorStore struct {
	hitsByCollection map[string][]vectorstore.Hit
}

func (f *fakeVectorStore) EnsureCollection(context.Context, string) error { return nil }

func (f *fakeVectorStore) Upsert(context.Context, string, []vectorstore.Document) error { return nil }

func (f *fakeVectorStore) Query(_ context.Context, collection string, _ []float32, _ int) ([]vectorstore.Hit, error) {
	return f.hitsByCollection[collection], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string, _ llm.EmbedMode) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

type fixture struct {
	orchestrator *Orchestrator
	gateway      *fakeGateway
	queue        *Queue
}

func newFixture(t *testing.T, generator llm.Generator, hits map[string][]vectorstore.Hit) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := &fakeGateway{}
	queue := NewQueue(1, 16, logger)
	t.Cleanup(queue.Close)

	correlator := correlate.New(cache.NewMemoryProvider(), logger, time.Minute)
	retriever := retrieval.NewService(fakeEmbedder{}, &fakeVectorStore{hitsByCollection: hits}, 3, logger)

	orchestrator := NewOrchestrator(
		correlator, generator, retriever, gateway, &runbooks.Registry{}, queue,
		Options{Channel: "#on-call", DocsCollection: "client_documentation", ChatCollection: "slack_messages"},
		logger,
	)
	return &fixture{orchestrator: orchestrator, gateway: gateway, queue: queue}
}

func firingPayload(groupKey string, fingerprints ...string) models.WebhookPayload {
	payload := models.WebhookPayload{
		Status:      models.StatusFiring,
		GroupKey:    groupKey,
		GroupLabels: map[string]string{"alertname": "HighCPU"},
	}
	for _, fp := range fingerprints {
		payload.Alerts = append(payload.Alerts, models.Alert{
			Fingerprint: fp,
			Status:      models.StatusFiring,
			Labels:      map[string]string{"alertname": "HighCPU", "instance": "node-1"},
			Annotations: map[string]string{"summary": "cpu is hot", "description": "sustained load"},
			StartsAt:    time.Now(),
		})
	}
	return payload
}

func docHits() map[string][]vectorstore.Hit {
	return map[string][]vectorstore.Hit{
		"client_documentation": {{Metadata: map[string]any{
			models.MetaSourceType: "markdown",
			models.MetaHeaderText: "CPU alerts",
			models.MetaPreview:    "check the load average",
		}}},
		"slack_messages": {{Metadata: map[string]any{
			models.MetaSourceType: "chat",
			models.MetaUser:       "U42",
			models.MetaPreview:    "we saw this last week",
		}}},
	}
}

func TestDeliveryPostsInitialThenOrderedFollowups(t *testing.T) {
	f := newFixture(t, &fakeGenerator{text: "both nodes are overloaded"}, docHits())

	err := f.orchestrator.HandleDelivery(context.Background(), firingPayload("group-1", "fp-1", "fp-2"))
	require.NoError(t, err)
	f.queue.Close()

	posts, replies := f.gateway.snapshot()
	require.Len(t, posts, 1, "exactly one initial notification per batch")
	assert.Contains(t, posts[0].Text, "2 alert(s) firing")

	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], "Incident summary")
	assert.Contains(t, replies[0], "both nodes are overloaded")
	assert.Contains(t, replies[1], "Related documentation")
	assert.Contains(t, replies[1], "From header CPU alerts")
	assert.Contains(t, replies[2], "Related chat history")
	assert.Contains(t, replies[2], "From user U42")

	threadTS := strings.SplitN(replies[0], "|", 2)[0]
	for _, reply := range replies {
		assert.True(t, strings.HasPrefix(reply, threadTS+"|"), "all follow-ups share the thread")
	}
}

func TestGenerationFailurePostsDegradedNotice(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: llm.ErrGenerationUnavailable}, docHits())

	err := f.orchestrator.HandleDelivery(context.Background(), firingPayload("group-1", "fp-1"))
	require.NoError(t, err)
	f.queue.Close()

	_, replies := f.gateway.snapshot()
	require.Len(t, replies, 1, "degraded notice only, no retrieval follow-ups")
	assert.Contains(t, replies[0], "Unable to generate a summary")
}

func TestZeroAlertsCreatesNoIncident(t *testing.T) {
	f := newFixture(t, &fakeGenerator{text: "unused"}, nil)

	payload := firingPayload("group-1")
	require.NoError(t, f.orchestrator.HandleDelivery(context.Background(), payload))
	f.queue.Close()

	posts, replies := f.gateway.snapshot()
	assert.Empty(t, posts)
	assert.Empty(t, replies)
}

func TestGroupKeyReuseSharesThread(t *testing.T) {
	f := newFixture(t, &fakeGenerator{text: "summary"}, nil)
	ctx := context.Background()

	require.NoError(t, f.orchestrator.HandleDelivery(ctx, firingPayload("group-1", "fp-1")))
	require.NoError(t, f.orchestrator.HandleDelivery(ctx, firingPayload("group-1", "fp-2")))
	f.queue.Close()

	posts, replies := f.gateway.snapshot()
	require.Len(t, posts, 1, "second delivery joins the open incident")

	threadTS := ""
	for _, reply := range replies {
		ts := strings.SplitN(reply, "|", 2)[0]
		if threadTS == "" {
			threadTS = ts
		}
		assert.Equal(t, threadTS, ts, "one incident never spans threads")
	}
}

func TestDistinctGroupKeysGetDistinctThreads(t *testing.T) {
	f := newFixture(t, &fakeGenerator{text: "summary"}, nil)
	ctx := context.Background()

	require.NoError(t, f.orchestrator.HandleDelivery(ctx, firingPayload("group-a", "fp-1")))
	require.NoError(t, f.orchestrator.HandleDelivery(ctx, firingPayload("group-b", "fp-2")))
	f.queue.Close()

	posts, _ := f.gateway.snapshot()
	assert.Len(t, posts, 2)
}

func TestBuildPromptOneBlockPerAlert(t *testing.T) {
	alerts := firingPayload("g", "fp-1", "fp-2").Alerts
	prompt := buildPrompt(alerts)

	assert.Contains(t, prompt, "The following related alerts are firing:")
	assert.Contains(t, prompt, "--- Alert 1 ---")
	assert.Contains(t, prompt, "--- Alert 2 ---")
	assert.Contains(t, prompt, "Name: HighCPU")
	assert.Contains(t, prompt, "Summary: cpu is hot")
	assert.Contains(t, prompt, "Instance: node-1")
}
