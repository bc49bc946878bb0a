// Package config loads engine configuration from YAML and environment
// variables and exposes it through an atomically swappable snapshot so
// reconfiguration never produces torn reads.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Storage   StorageConfig    `koanf:"storage"`
	Providers []ProviderConfig `koanf:"providers"`
	Budget    BudgetConfig     `koanf:"budget"`
	Health    HealthConfig     `koanf:"health"`
	Cache     CacheConfig      `koanf:"cache"`
	Safety    SafetyConfig     `koanf:"safety"`
	Router    RouterConfig     `koanf:"router"`
	Notify    NotifyConfig     `koanf:"notify"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ProviderConfig struct {
	ID              string   `koanf:"id"`
	Vendor          string   `koanf:"vendor"` // openai, anthropic
	Model           string   `koanf:"model"`
	APIKey          string   `koanf:"api_key"`
	BaseURL         string   `koanf:"base_url"`
	Enabled         *bool    `koanf:"enabled"` // nil means enabled
	Temperature     float32  `koanf:"temperature"`
	TopP            float32  `koanf:"top_p"`
	MaxTokens       int      `koanf:"max_tokens"`
	Deterministic   bool     `koanf:"deterministic"`
	Capabilities    []string `koanf:"capabilities"`
	InputCostPer1K  float64  `koanf:"input_cost_per_1k"`
	OutputCostPer1K float64  `koanf:"output_cost_per_1k"`
}

// IsEnabled treats an absent enabled flag as true.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type BudgetConfig struct {
	// GlobalHardLimitUSD caps cumulative spend across all scopes.
	GlobalHardLimitUSD float64 `koanf:"global_hard_limit_usd"`
	GlobalSoftLimitUSD float64 `koanf:"global_soft_limit_usd"`

	// DefaultScopeHardLimitUSD applies to scopes without an explicit entry.
	DefaultScopeHardLimitUSD float64 `koanf:"default_scope_hard_limit_usd"`
	DefaultScopeSoftLimitUSD float64 `koanf:"default_scope_soft_limit_usd"`

	Scopes map[string]ScopeLimits `koanf:"scopes"`
}

type ScopeLimits struct {
	HardLimitUSD float64 `koanf:"hard_limit_usd"`
	SoftLimitUSD float64 `koanf:"soft_limit_usd"`
}

type HealthConfig struct {
	ProbeInterval      time.Duration `koanf:"probe_interval"`
	ProbeTimeout       time.Duration `koanf:"probe_timeout"`
	Window             int           `koanf:"window"`
	ErrorRateThreshold float64       `koanf:"error_rate_threshold"`
	LatencyCeiling     time.Duration `koanf:"latency_ceiling"`
	OfflineAfter       int           `koanf:"offline_after"`
	HealthyAfter       int           `koanf:"healthy_after"`
}

type CacheConfig struct {
	TTL      time.Duration `koanf:"ttl"`
	Capacity int           `koanf:"capacity"`
}

type SafetyConfig struct {
	DefaultConfidenceThreshold float64       `koanf:"default_confidence_threshold"`
	AutoResolveWindow          time.Duration `koanf:"auto_resolve_window"`
	Rules                      []SafetyRule  `koanf:"rules"`
}

// SafetyRule configures the breaker for one decision type.
type SafetyRule struct {
	DecisionType        string   `koanf:"decision_type"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	RiskPatterns        []string `koanf:"risk_patterns"`
	// OnTrip is "reject" or "modify"; modify forces the Modified outcome
	// instead of Rejected when the breaker trips.
	OnTrip string `koanf:"on_trip"`
}

type RouterConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
}

type NotifyConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
	Retries    int           `koanf:"retries"`
}

// Load reads configuration from the given YAML file (optional) layered
// under VIGOR_-prefixed environment variables, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("VIGOR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "VIGOR_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                         8080,
		"server.request_timeout":              "60s",
		"storage.type":                        "sqlite",
		"storage.sqlite.path":                 "./data/engine.db",
		"budget.global_hard_limit_usd":        100.0,
		"budget.global_soft_limit_usd":        80.0,
		"budget.default_scope_hard_limit_usd": 5.0,
		"budget.default_scope_soft_limit_usd": 4.0,
		"health.probe_interval":               "30s",
		"health.probe_timeout":                "5s",
		"health.window":                       20,
		"health.error_rate_threshold":         0.05,
		"health.latency_ceiling":              "2s",
		"health.offline_after":                5,
		"health.healthy_after":                5,
		"cache.ttl":                           "5m",
		"cache.capacity":                      1024,
		"safety.default_confidence_threshold": 0.60,
		"safety.auto_resolve_window":          "10m",
		"router.max_attempts":                 3,
		"router.attempt_timeout":              "30s",
		"notify.timeout":                      "5s",
		"notify.retries":                      2,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

// Validate checks cross-field invariants that koanf cannot express.
func (c *Config) Validate() error {
	if c.Budget.GlobalHardLimitUSD <= 0 {
		return fmt.Errorf("config: budget.global_hard_limit_usd must be positive")
	}
	if c.Budget.GlobalSoftLimitUSD > c.Budget.GlobalHardLimitUSD {
		return fmt.Errorf("config: budget.global_soft_limit_usd exceeds hard limit")
	}
	if c.Health.Window <= 0 {
		return fmt.Errorf("config: health.window must be positive")
	}
	if c.Router.MaxAttempts <= 0 {
		return fmt.Errorf("config: router.max_attempts must be positive")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Vendor {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("config: provider %q has unknown vendor %q", p.ID, p.Vendor)
		}
	}

	for _, r := range c.Safety.Rules {
		if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
			return fmt.Errorf("config: safety rule %q confidence threshold out of [0,1]", r.DecisionType)
		}
		switch r.OnTrip {
		case "", "reject", "modify":
		default:
			return fmt.Errorf("config: safety rule %q has invalid on_trip %q", r.DecisionType, r.OnTrip)
		}
	}

	return nil
}

// ScopeLimitsFor resolves the limits for a budget scope, falling back to
// the defaults when the scope has no explicit entry.
func (c *Config) ScopeLimitsFor(scope string) ScopeLimits {
	if l, ok := c.Budget.Scopes[scope]; ok {
		return l
	}
	return ScopeLimits{
		HardLimitUSD: c.Budget.DefaultScopeHardLimitUSD,
		SoftLimitUSD: c.Budget.DefaultScopeSoftLimitUSD,
	}
}
