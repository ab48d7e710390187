package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oncallstack/oncall-responder/internal/correlate"
	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/metrics"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/notify"
	"github.com/oncallstack/oncall-responder/internal/retrieval"
	"github.com/oncallstack/oncall-responder/internal/runbooks"
	"github.com/oncallstack/oncall-responder/internal/utils"
)

// Workflow step names used in logs and metrics.
const (
	stepNotified       = "notified"
	stepCorrelated     = "correlated"
	stepSummarized     = "summarized"
	stepContextualized = "contextualized"
	stepCompleted      = "completed"
)

// Orchestrator drives the incident workflow for each webhook delivery: a
// synchronous initial notification, then background correlation, summary
// generation and knowledge retrieval posted into the same thread.
type Orchestrator struct {
	correlator *correlate.Correlator
	generator  llm.Generator
	retriever  *retrieval.Service
	gateway    notify.Gateway
	registry   *runbooks.Registry
	queue      *Queue

	channel        string
	docsCollection string
	chatCollection string

	latency *utils.LatencyTracker
	logger  *slog.Logger
}

// Options collects the orchestrator's channel and collection wiring.
type Options struct {
	Channel        string
	DocsCollection string
	ChatCollection string
}

// NewOrchestrator wires the workflow over its collaborators.
func NewOrchestrator(
	correlator *correlate.Correlator,
	generator llm.Generator,
	retriever *retrieval.Service,
	gateway notify.Gateway,
	registry *runbooks.Registry,
	queue *Queue,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		correlator:     correlator,
		generator:      generator,
		retriever:      retriever,
		gateway:        gateway,
		registry:       registry,
		queue:          queue,
		channel:        opts.Channel,
		docsCollection: opts.DocsCollection,
		chatCollection: opts.ChatCollection,
		latency:        utils.NewLatencyTracker(512),
		logger:         logger,
	}
}

// HandleDelivery runs the synchronous prefix of the workflow: resolve or
// open the incident, post the initial notification, and hand the rest to
// the background queue. The returned error is a delivery failure only;
// storage trouble degrades instead of failing the request.
func (o *Orchestrator) HandleDelivery(ctx context.Context, payload models.WebhookPayload) error {
	if len(payload.Alerts) == 0 {
		o.logger.Info("delivery with zero alerts acknowledged", "group_key", payload.GroupKey)
		return nil
	}

	incident, found, err := o.correlator.LookupIncident(ctx, payload.GroupKey)
	if err != nil {
		o.logger.Warn("incident lookup degraded, treating delivery as new", "error", err)
		found = false
	}

	msg := notify.InitialMessage(payload, o.registry)
	if found {
		// Deliveries joining an open incident notify inside its thread so
		// one incident never spans multiple threads.
		if err := o.gateway.PostThreadReply(ctx, incident.ThreadRef, msg.Text); err != nil {
			metrics.ObserveWorkflowStep(stepNotified, metrics.OutcomeError)
			return err
		}
	} else {
		thread, err := o.gateway.PostMessage(ctx, o.channel, msg)
		if err != nil {
			metrics.ObserveWorkflowStep(stepNotified, metrics.OutcomeError)
			return err
		}
		incident, err = o.correlator.OpenIncident(ctx, payload.GroupKey, thread)
		if err != nil {
			// The responder message is out; without storage there is
			// nothing to correlate, so the workflow ends here.
			o.logger.Error("incident could not be opened, skipping background workflow", "error", err)
			metrics.ObserveWorkflowStep(stepCorrelated, metrics.OutcomeError)
			return nil
		}
	}
	metrics.ObserveWorkflowStep(stepNotified, metrics.OutcomeSuccess)

	alerts := payload.Alerts
	inc := incident
	if err := o.queue.Submit(func(taskCtx context.Context) {
		o.Run(taskCtx, inc, alerts)
	}); err != nil {
		o.logger.Error("failed to enqueue incident workflow", "incident_id", incident.ID, "error", err)
	}
	return nil
}

// Run executes the background portion of the workflow for one incident.
// Every step failure is absorbed here; nothing propagates past the task.
func (o *Orchestrator) Run(ctx context.Context, incident models.Incident, alerts []models.Alert) {
	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		o.latency.Observe(elapsed)
		metrics.ObserveWorkflowDuration(elapsed)
		o.logger.Info("incident workflow finished",
			"incident_id", incident.ID,
			"elapsed", elapsed,
			"p95", o.latency.Percentile(95))
	}()

	o.correlateAlerts(ctx, incident, alerts)

	members, err := o.correlator.ActiveAlerts(ctx, incident.ID)
	if err != nil {
		o.logger.Warn("member listing degraded", "incident_id", incident.ID, "error", err)
	}
	if len(members) == 0 {
		// Nothing to summarize; completed with no further notifications.
		metrics.ObserveWorkflowStep(stepCompleted, metrics.OutcomeSuccess)
		return
	}

	summary, ok := o.summarize(ctx, incident, members)
	if !ok {
		return
	}

	o.contextualize(ctx, incident, summary)
	metrics.ObserveWorkflowStep(stepCompleted, metrics.OutcomeSuccess)
}

// correlateAlerts records and joins each alert individually; one bad alert
// never aborts the batch.
func (o *Orchestrator) correlateAlerts(ctx context.Context, incident models.Incident, alerts []models.Alert) {
	joined := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		if err := o.correlator.RecordAlerts(ctx, []models.Alert{alert}); err != nil {
			o.logger.Warn("failed to record alert", "fingerprint", alert.Fingerprint, "error", err)
			metrics.ObserveWorkflowStep(stepCorrelated, metrics.OutcomeError)
			continue
		}
		joined = append(joined, alert.Fingerprint)
	}
	if len(joined) > 0 {
		if err := o.correlator.JoinIncident(ctx, incident.ID, joined); err != nil {
			o.logger.Warn("failed to join incident", "incident_id", incident.ID, "error", err)
			metrics.ObserveWorkflowStep(stepCorrelated, metrics.OutcomeError)
			return
		}
	}
	metrics.ObserveWorkflowStep(stepCorrelated, metrics.OutcomeSuccess)
}

// summarize renders the member alerts into one prompt and posts the
// generated summary into the incident thread. A generation failure posts a
// degraded notice and ends the workflow.
func (o *Orchestrator) summarize(ctx context.Context, incident models.Incident, members []models.Alert) (string, bool) {
	summary, err := o.generator.GenerateText(ctx, buildPrompt(members))
	if err != nil {
		metrics.ObserveWorkflowStep(stepSummarized, metrics.OutcomeError)
		o.logger.Error("summary generation failed", "incident_id", incident.ID, "error", err)
		if postErr := o.gateway.PostThreadReply(ctx, incident.ThreadRef, notify.DegradedMessage()); postErr != nil {
			o.logger.Error("failed to post degraded notice", "incident_id", incident.ID, "error", postErr)
		}
		return "", false
	}

	if err := o.gateway.PostThreadReply(ctx, incident.ThreadRef, notify.SummaryReply(summary)); err != nil {
		metrics.ObserveWorkflowStep(stepSummarized, metrics.OutcomeError)
		o.logger.Error("failed to post summary", "incident_id", incident.ID, "error", err)
		return "", false
	}
	metrics.ObserveWorkflowStep(stepSummarized, metrics.OutcomeSuccess)
	return summary, true
}

// contextualize queries the knowledge collections with the summary and
// posts each non-empty result list as its own threaded follow-up, in fixed
// order. Retrieval trouble reads as "no results".
func (o *Orchestrator) contextualize(ctx context.Context, incident models.Incident, summary string) {
	followups := []struct {
		collection string
		title      string
	}{
		{o.docsCollection, "📚 Related documentation"},
		{o.chatCollection, "💬 Related chat history"},
	}

	for _, followup := range followups {
		lines := o.retriever.Search(ctx, followup.collection, summary)
		if len(lines) == 0 {
			continue
		}
		if err := o.gateway.PostThreadReply(ctx, incident.ThreadRef, notify.ContextReply(followup.title, lines)); err != nil {
			o.logger.Warn("failed to post retrieval follow-up",
				"incident_id", incident.ID,
				"collection", followup.collection,
				"error", err)
		}
	}
	metrics.ObserveWorkflowStep(stepContextualized, metrics.OutcomeSuccess)
}

// buildPrompt renders member alerts into the generation prompt, one block
// per alert.
func buildPrompt(alerts []models.Alert) string {
	var b strings.Builder
	b.WriteString("The following related alerts are firing:\n\n")
	for i, alert := range alerts {
		fmt.Fprintf(&b, "--- Alert %d ---\n", i+1)
		fmt.Fprintf(&b, "Name: %s\n", alert.Name())
		fmt.Fprintf(&b, "Summary: %s\n", alert.Annotation("summary"))
		fmt.Fprintf(&b, "Description: %s\n\n", alert.Annotation("description"))
		fmt.Fprintf(&b, "Instance: %s\n\n", alert.Instance())
	}
	return b.String()
}
