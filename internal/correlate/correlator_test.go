package correlate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oncallstack/oncall-responder/internal/cache"
	"github.com/oncallstack/oncall-responder/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func firingAlert(fp, name string) models.Alert {
	return models.Alert{
		Fingerprint: fp,
		Status:      models.StatusFiring,
		Labels:      map[string]string{"alertname": name, "instance": "node-1"},
		StartsAt:    time.Now(),
	}
}

func TestLookupIncidentMissThenHit(t *testing.T) {
	store := cache.NewMemoryProvider()
	c := New(store, testLogger(), time.Minute)
	ctx := context.Background()

	_, found, err := c.LookupIncident(ctx, "group-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected no incident before open")
	}

	thread := models.ThreadRef{Channel: "C123", Timestamp: "1700000000.000100"}
	opened, err := c.OpenIncident(ctx, "group-a", thread)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened.ID == "" {
		t.Fatalf("expected incident id to be assigned")
	}

	got, found, err := c.LookupIncident(ctx, "group-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected incident after open")
	}
	if got.ID != opened.ID || got.ThreadRef != thread {
		t.Fatalf("unexpected incident: %+v", got)
	}
}

func TestDistinctGroupsGetDistinctIncidents(t *testing.T) {
	store := cache.NewMemoryProvider()
	c := New(store, testLogger(), time.Minute)
	ctx := context.Background()

	first, err := c.OpenIncident(ctx, "group-a", models.ThreadRef{Channel: "C1", Timestamp: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.OpenIncident(ctx, "group-b", models.ThreadRef{Channel: "C1", Timestamp: "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct incident ids")
	}
}

func TestActiveAlertsSkipsExpired(t *testing.T) {
	store := cache.NewMemoryProvider()
	c := New(store, testLogger(), time.Minute)
	ctx := context.Background()

	alerts := []models.Alert{firingAlert("fp-1", "HighCPU"), firingAlert("fp-2", "DiskFull")}
	if err := c.RecordAlerts(ctx, alerts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.JoinIncident(ctx, "inc-1", []string{"fp-1", "fp-2", "fp-gone"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, err := c.ActiveAlerts(ctx, "inc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected two active alerts, got %d", len(active))
	}
	names := map[string]bool{}
	for _, a := range active {
		names[a.Name()] = true
	}
	if !names["HighCPU"] || !names["DiskFull"] {
		t.Fatalf("unexpected alert set: %v", names)
	}
}

func TestRecordAlertsLastWriteWins(t *testing.T) {
	store := cache.NewMemoryProvider()
	c := New(store, testLogger(), time.Minute)
	ctx := context.Background()

	first := firingAlert("fp-1", "HighCPU")
	if err := c.RecordAlerts(ctx, []models.Alert{first}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved := first
	resolved.Status = models.StatusResolved
	if err := c.RecordAlerts(ctx, []models.Alert{resolved}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.JoinIncident(ctx, "inc-1", []string{"fp-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, err := c.ActiveAlerts(ctx, "inc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].Status != models.StatusResolved {
		t.Fatalf("expected resolved copy to win, got %+v", active)
	}
}

func TestActiveAlertsEmptyIncident(t *testing.T) {
	c := New(cache.NewMemoryProvider(), testLogger(), time.Minute)
	active, err := c.ActiveAlerts(context.Background(), "inc-none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no alerts, got %d", len(active))
	}
}
