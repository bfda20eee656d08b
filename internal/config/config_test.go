package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port == "" {
		t.Fatalf("expected default port")
	}
	if cfg.BranchID == "" {
		t.Fatalf("expected default branch id")
	}
	if cfg.Address() != ":"+cfg.Port {
		t.Fatalf("address = %s, want :%s", cfg.Address(), cfg.Port)
	}
}

func TestCostTrackingFlag(t *testing.T) {
	t.Setenv("COST_TRACKING_ENABLED", "false")
	if Load().CostTrackingEnabled {
		t.Fatalf("expected cost tracking disabled")
	}

	t.Setenv("COST_TRACKING_ENABLED", "not-a-bool")
	if !Load().CostTrackingEnabled {
		t.Fatalf("expected fallback to default on parse failure")
	}
}
