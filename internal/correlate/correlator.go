package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oncallstack/oncall-responder/internal/cache"
	"github.com/oncallstack/oncall-responder/internal/models"
)

// ErrStorageUnavailable wraps failures of the correlation store. Callers
// treat it as transient; the alert delivery itself was still acknowledged.
var ErrStorageUnavailable = errors.New("correlation storage unavailable")

const (
	alertKeyPrefix   = "alert:"
	groupKeyPrefix   = "incident:group:"
	membersKeyPrefix = "incident:"
	membersKeySuffix = ":members"
)

// Correlator groups alert deliveries into incidents. All state lives in the
// TTL store: alerts age out individually, and an incident's membership set
// expires after a quiet period with no new deliveries, which is the only way
// an incident ever closes.
type Correlator struct {
	store  cache.Provider
	logger *slog.Logger
	window time.Duration
}

// New builds a Correlator over the given store. The window is the sliding
// quiet period after which an idle incident ages out; zero selects the
// alert TTL.
func New(store cache.Provider, logger *slog.Logger, window time.Duration) *Correlator {
	if window <= 0 {
		window = models.AlertTTL
	}
	return &Correlator{store: store, logger: logger, window: window}
}

// RecordAlerts stores each alert under its fingerprint with the alert TTL.
// Re-delivery of a fingerprint overwrites the previous copy, so the stored
// alert always reflects the latest status seen.
func (c *Correlator) RecordAlerts(ctx context.Context, alerts []models.Alert) error {
	for _, alert := range alerts {
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", alert.Fingerprint, err)
		}
		if err := c.store.Set(ctx, alertKeyPrefix+alert.Fingerprint, data, models.AlertTTL); err != nil {
			return fmt.Errorf("%w: store alert %s: %v", ErrStorageUnavailable, alert.Fingerprint, err)
		}
	}
	return nil
}

// LookupIncident returns the open incident for a group key, if any. A hit
// refreshes the group mapping's TTL so the incident window slides while
// deliveries keep arriving.
func (c *Correlator) LookupIncident(ctx context.Context, groupKey string) (models.Incident, bool, error) {
	data, err := c.store.Get(ctx, groupKeyPrefix+groupKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, fmt.Errorf("%w: lookup group %s: %v", ErrStorageUnavailable, groupKey, err)
	}

	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		c.logger.Warn("discarding unreadable incident record", "group_key", groupKey, "error", err)
		_ = c.store.Del(ctx, groupKeyPrefix+groupKey)
		return models.Incident{}, false, nil
	}

	if err := c.store.Expire(ctx, groupKeyPrefix+groupKey, c.window); err != nil {
		c.logger.Warn("failed to refresh incident window", "incident_id", incident.ID, "error", err)
	}
	return incident, true, nil
}

// OpenIncident creates a new incident record for a group key and binds it to
// the notification thread all follow-ups will post into.
func (c *Correlator) OpenIncident(ctx context.Context, groupKey string, thread models.ThreadRef) (models.Incident, error) {
	incident := models.Incident{
		ID:        uuid.NewString(),
		ThreadRef: thread,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(incident)
	if err != nil {
		return models.Incident{}, fmt.Errorf("marshal incident: %w", err)
	}
	if err := c.store.Set(ctx, groupKeyPrefix+groupKey, data, c.window); err != nil {
		return models.Incident{}, fmt.Errorf("%w: open incident for group %s: %v", ErrStorageUnavailable, groupKey, err)
	}
	return incident, nil
}

// JoinIncident adds alert fingerprints to the incident's membership set and
// refreshes the set's TTL.
func (c *Correlator) JoinIncident(ctx context.Context, incidentID string, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	key := membersKey(incidentID)
	if err := c.store.SetAdd(ctx, key, fingerprints, c.window); err != nil {
		return fmt.Errorf("%w: join incident %s: %v", ErrStorageUnavailable, incidentID, err)
	}
	return nil
}

// ActiveAlerts returns every member alert of an incident that has not aged
// out. Fingerprints whose alert record already expired are skipped silently;
// the membership set may outlive individual alerts.
func (c *Correlator) ActiveAlerts(ctx context.Context, incidentID string) ([]models.Alert, error) {
	members, err := c.store.SetMembers(ctx, membersKey(incidentID))
	if err != nil {
		return nil, fmt.Errorf("%w: list members of %s: %v", ErrStorageUnavailable, incidentID, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, fp := range members {
		keys[i] = alertKeyPrefix + fp
	}
	values, err := c.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch alerts for %s: %v", ErrStorageUnavailable, incidentID, err)
	}

	alerts := make([]models.Alert, 0, len(values))
	for i, data := range values {
		if data == nil {
			continue
		}
		var alert models.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			c.logger.Warn("skipping unreadable alert record", "fingerprint", members[i], "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func membersKey(incidentID string) string {
	return membersKeyPrefix + incidentID + membersKeySuffix
}
