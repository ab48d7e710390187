package runbooks

import (
	"os"
	"path/filepath"
	"testing"
)

const registryYAML = `services:
  checkout:
    runbooks:
      - name: Checkout latency
        url: https://wiki.example.com/runbooks/checkout-latency
    dashboards:
      - name: Checkout overview
        url: https://grafana.example.com/d/checkout
  payments:
    runbooks:
      - name: Payments failures
        url: https://wiki.example.com/runbooks/payments
`

func TestLoadAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	registry, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc, ok := registry.Lookup("checkout")
	if !ok {
		t.Fatalf("expected checkout service")
	}
	if len(svc.Runbooks) != 1 || svc.Runbooks[0].URL != "https://wiki.example.com/runbooks/checkout-latency" {
		t.Fatalf("unexpected runbooks: %+v", svc.Runbooks)
	}
	if len(svc.Dashboards) != 1 || svc.Dashboards[0].Name != "Checkout overview" {
		t.Fatalf("unexpected dashboards: %+v", svc.Dashboards)
	}

	if _, ok := registry.Lookup("search"); ok {
		t.Fatalf("expected miss for unregistered service")
	}
}

func TestLoadMissingFileYieldsEmptyRegistry(t *testing.T) {
	registry, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := registry.Lookup("checkout"); ok {
		t.Fatalf("expected empty registry")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte("services: [not a map"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
