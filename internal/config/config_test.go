package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Health.ProbeInterval != 30*time.Second {
		t.Errorf("Health.ProbeInterval = %v, want 30s", cfg.Health.ProbeInterval)
	}
	if cfg.Health.Window != 20 {
		t.Errorf("Health.Window = %d, want 20", cfg.Health.Window)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Safety.DefaultConfidenceThreshold != 0.60 {
		t.Errorf("Safety.DefaultConfidenceThreshold = %f, want 0.60", cfg.Safety.DefaultConfidenceThreshold)
	}
	if cfg.Router.MaxAttempts != 3 {
		t.Errorf("Router.MaxAttempts = %d, want 3", cfg.Router.MaxAttempts)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
providers:
  - id: openai-main
    vendor: openai
    model: gpt-4o-mini
    api_key: test-key
    input_cost_per_1k: 0.00015
    output_cost_per_1k: 0.0006
  - id: anthropic-main
    vendor: anthropic
    model: claude-sonnet
    api_key: test-key
    enabled: false
budget:
  global_hard_limit_usd: 50.0
  global_soft_limit_usd: 40.0
  scopes:
    user-42:
      hard_limit_usd: 5.0
      soft_limit_usd: 4.0
safety:
  rules:
    - decision_type: workout_mutation
      confidence_threshold: 0.75
      risk_patterns:
        - "intensity\\s*\\+\\s*[5-9]\\d"
      on_trip: reject
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Providers))
	}
	if !cfg.Providers[0].IsEnabled() {
		t.Error("provider without enabled flag should default to enabled")
	}
	if cfg.Providers[1].IsEnabled() {
		t.Error("explicitly disabled provider should not be enabled")
	}

	limits := cfg.ScopeLimitsFor("user-42")
	if limits.HardLimitUSD != 5.0 {
		t.Errorf("user-42 hard limit = %f, want 5.0", limits.HardLimitUSD)
	}
	fallback := cfg.ScopeLimitsFor("user-99")
	if fallback.HardLimitUSD != cfg.Budget.DefaultScopeHardLimitUSD {
		t.Errorf("unknown scope should use default limit, got %f", fallback.HardLimitUSD)
	}

	if len(cfg.Safety.Rules) != 1 || cfg.Safety.Rules[0].ConfidenceThreshold != 0.75 {
		t.Errorf("safety rule not loaded: %+v", cfg.Safety.Rules)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "duplicate provider id",
			yaml: `
providers:
  - {id: p1, vendor: openai, model: a, api_key: k}
  - {id: p1, vendor: openai, model: b, api_key: k}
`,
		},
		{
			name: "unknown vendor",
			yaml: `
providers:
  - {id: p1, vendor: cohere, model: a, api_key: k}
`,
		},
		{
			name: "soft limit above hard limit",
			yaml: `
budget:
  global_hard_limit_usd: 10.0
  global_soft_limit_usd: 20.0
`,
		},
		{
			name: "confidence threshold out of range",
			yaml: `
safety:
  rules:
    - {decision_type: workout_mutation, confidence_threshold: 1.5}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestStoreSwap(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	store := NewStore(cfg, "", nil)

	old := store.Current()

	next := *cfg
	next.Budget.GlobalHardLimitUSD = 200.0
	if err := store.Swap(&next); err != nil {
		t.Fatalf("Swap() error: %v", err)
	}

	if store.Current().Budget.GlobalHardLimitUSD != 200.0 {
		t.Error("Swap did not take effect")
	}
	// The old snapshot a reader may still hold is untouched.
	if old.Budget.GlobalHardLimitUSD != 100.0 {
		t.Error("old snapshot was mutated by Swap")
	}

	bad := *cfg
	bad.Budget.GlobalHardLimitUSD = -1
	if err := store.Swap(&bad); err == nil {
		t.Error("Swap() accepted invalid config")
	}
}
