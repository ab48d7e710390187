package models

import (
	"fmt"
	"strings"
	"time"
)

// Alert statuses as delivered by Alertmanager-compatible sources.
const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// AlertTTL bounds how long an alert stays eligible for correlation.
const AlertTTL = 2 * time.Hour

// Alert is one firing/resolved signal identified by a source-supplied
// fingerprint. Alerts are immutable restatements of the same signal; a
// re-delivery with the same fingerprint simply overwrites the stored copy.
type Alert struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// Name returns the alertname label, or a placeholder when absent.
func (a Alert) Name() string {
	if v, ok := a.Labels["alertname"]; ok && v != "" {
		return v
	}
	return "unknown-alert"
}

// Instance returns the instance label, or a placeholder when absent.
func (a Alert) Instance() string {
	if v, ok := a.Labels["instance"]; ok && v != "" {
		return v
	}
	return "unknown-instance"
}

// Annotation returns the named annotation or "N/A" when missing.
func (a Alert) Annotation(key string) string {
	if v, ok := a.Annotations[key]; ok && v != "" {
		return v
	}
	return "N/A"
}

// WebhookPayload is the batch-alert delivery posted by Alertmanager.
type WebhookPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int               `json:"truncatedAlerts"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []Alert           `json:"alerts"`
}

// GroupName returns the grouping alertname when present.
func (p WebhookPayload) GroupName() string {
	if v, ok := p.GroupLabels["alertname"]; ok && v != "" {
		return v
	}
	if len(p.Alerts) > 0 {
		return p.Alerts[0].Name()
	}
	return "unknown-alert"
}

// Incident groups correlated alerts under one notification thread.
type Incident struct {
	ID        string    `json:"id"`
	ThreadRef ThreadRef `json:"threadRef"`
	CreatedAt time.Time `json:"createdAt"`
}

// ThreadRef is the opaque handle into the notification system identifying
// the conversation thread all follow-ups for one incident post into.
type ThreadRef struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

// IsZero reports whether the reference identifies no thread.
func (t ThreadRef) IsZero() bool {
	return t.Channel == "" && t.Timestamp == ""
}

// ValidationErrors collects every validation failure for a payload so the
// caller sees all problems at once rather than one per round trip.
type ValidationErrors struct {
	Failures []string
}

func (v *ValidationErrors) add(format string, args ...any) {
	v.Failures = append(v.Failures, fmt.Sprintf(format, args...))
}

func (v *ValidationErrors) Error() string {
	return "invalid payload: " + strings.Join(v.Failures, "; ")
}

// Validate checks the webhook payload shape. A nil return means the payload
// is acceptable; zero alerts is valid (acknowledged, no incident created).
func (p WebhookPayload) Validate() error {
	errs := &ValidationErrors{}

	if p.Status != StatusFiring && p.Status != StatusResolved {
		errs.add("status must be %q or %q, got %q", StatusFiring, StatusResolved, p.Status)
	}
	if p.GroupKey == "" {
		errs.add("groupKey is required")
	}
	for i, alert := range p.Alerts {
		if alert.Fingerprint == "" {
			errs.add("alerts[%d].fingerprint is required", i)
		}
		if alert.Status != StatusFiring && alert.Status != StatusResolved {
			errs.add("alerts[%d].status must be %q or %q, got %q", i, StatusFiring, StatusResolved, alert.Status)
		}
		if alert.StartsAt.IsZero() {
			errs.add("alerts[%d].startsAt is required", i)
		}
	}

	if len(errs.Failures) > 0 {
		return errs
	}
	return nil
}
