package domain

import (
	"encoding/json"
	"time"
)

// TaskType categorizes what the caller is asking the engine to generate.
type TaskType string

const (
	TaskWorkoutGeneration TaskType = "workout_generation"
	TaskCoachingChat      TaskType = "coaching_chat"
	TaskPlanAdjustment    TaskType = "plan_adjustment"
	TaskMotivation        TaskType = "motivation"
)

// DecisionType identifies a generation whose result drives an autonomous
// downstream decision (e.g. mutating a user's workout). Requests without a
// decision type skip the safety/receipt pipeline entirely.
type DecisionType string

const (
	DecisionWorkoutMutation     DecisionType = "workout_mutation"
	DecisionIntensityAdjustment DecisionType = "intensity_adjustment"
	DecisionRestDayOverride     DecisionType = "rest_day_override"
)

// GenerationRequest is the canonical inbound request.
type GenerationRequest struct {
	RequestID    string            `json:"request_id"`
	Prompt       string            `json:"prompt"`
	TaskType     TaskType          `json:"task_type"`
	ScopeID      string            `json:"scope_id"`
	Cacheable    bool              `json:"cacheable"`
	DecisionType DecisionType      `json:"decision_type,omitempty"`
	SubjectID    string            `json:"subject_id,omitempty"`
	Model        string            `json:"model,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Temperature  float32           `json:"temperature,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Confidence and Alternatives describe the candidate decision being
	// evaluated; they only apply when DecisionType is set.
	Confidence   float64 `json:"confidence,omitempty"`
	Alternatives int     `json:"alternatives,omitempty"`
}

// Usage represents token usage for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse is the canonical result returned to the caller.
type GenerationResponse struct {
	RequestID  string          `json:"request_id"`
	Content    string          `json:"content"`
	ProviderID string          `json:"provider"`
	Model      string          `json:"model"`
	Cached     bool            `json:"cached"`
	Usage      Usage           `json:"usage"`
	CostUSD    float64         `json:"cost_usd"`
	Latency    time.Duration   `json:"-"`
	LatencyMS  int64           `json:"latency_ms"`
	Decision   *DecisionResult `json:"decision,omitempty"`
}

// DecisionResult summarizes the safety/receipt pipeline for a decision
// request. A rejected or modified outcome is a deliberate block, not an
// engine failure.
type DecisionResult struct {
	ReceiptID    string          `json:"receipt_id"`
	Outcome      DecisionOutcome `json:"outcome"`
	BreakerState string          `json:"breaker_state"`
	Reason       string          `json:"reason,omitempty"`
}

// ProviderDescriptor is the per-deployment identity and configuration of an
// upstream model backend. It changes only through explicit configuration
// updates, never implicitly.
type ProviderDescriptor struct {
	ID     string `json:"id"`
	Vendor string `json:"vendor"`
	Model  string `json:"model"`

	Enabled bool `json:"enabled"`

	// Sampling parameters. Ignored when Deterministic is set; structured
	// output models take no sampling knobs.
	Temperature   float32 `json:"temperature,omitempty"`
	TopP          float32 `json:"top_p,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Deterministic bool    `json:"deterministic,omitempty"`

	Capabilities []string `json:"capabilities,omitempty"`

	// USD per 1000 tokens, used for pre-dispatch estimates and
	// post-dispatch actuals.
	InputCostPer1K  float64 `json:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k"`
}

// Cost computes the USD cost of a completed call from its token usage.
func (d ProviderDescriptor) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*d.InputCostPer1K +
		float64(u.CompletionTokens)/1000*d.OutputCostPer1K
}

// HealthStatus is the coarse availability classification of a provider.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusOffline  HealthStatus = "offline"
)

// HealthRecord is the latest health aggregate for one provider. Owned
// exclusively by the health monitor; the router only reads snapshots.
type HealthRecord struct {
	ProviderID  string        `json:"provider_id"`
	Status      HealthStatus  `json:"status"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
	ErrorRate   float64       `json:"error_rate"`
	LastProbe   time.Time     `json:"last_probe"`
	LastSuccess time.Time     `json:"last_success"`
}

// DecisionOutcome is the finalized state of a decision receipt. It
// transitions from Pending to exactly one terminal value.
type DecisionOutcome string

const (
	OutcomePending  DecisionOutcome = "pending"
	OutcomeAccepted DecisionOutcome = "accepted"
	OutcomeRejected DecisionOutcome = "rejected"
	OutcomeModified DecisionOutcome = "modified"
)

// DecisionReceipt is the immutable audit record of one AI-driven decision.
// The context snapshot must be self-contained: interpretable later without
// re-querying any other subsystem.
type DecisionReceipt struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	SubjectID    string          `json:"subject_id"`
	DecisionType DecisionType    `json:"decision_type"`
	Confidence   float64         `json:"confidence"`
	Alternatives int             `json:"alternatives"`
	Outcome      DecisionOutcome `json:"outcome"`
	Context      json.RawMessage `json:"context"`
	// CorrectsID references an earlier receipt this one corrects.
	// Receipts are never edited; corrections are new records.
	CorrectsID  string     `json:"corrects_id,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// SafetyBreakerEvent is the append-only log entry written when the safety
// breaker blocks or flags a decision. Lifecycle ends at creation; any later
// manual review is tracked by an external collaborator.
type SafetyBreakerEvent struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	SubjectID    string    `json:"subject_id"`
	BreakerType  string    `json:"breaker_type"`
	Reason       string    `json:"reason"`
	AutoResolved bool      `json:"auto_resolved"`
}
