// Package notify delivers operational alerts: tripped safety breakers and
// budget soft-limit warnings. Delivery is fail-open; an unreachable sink
// never blocks or fails the request that raised the alert.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Kind classifies an alert.
type Kind string

const (
	KindBreakerTripped Kind = "breaker_tripped"
	KindBudgetWarning  Kind = "budget_warning"
)

// Alert is one notification payload.
type Alert struct {
	Kind      Kind           `json:"kind"`
	SubjectID string         `json:"subject_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives alerts. Implementations must be safe for concurrent use
// and should bound their own delivery time.
type Sink interface {
	Notify(ctx context.Context, alert Alert)
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, alert Alert) {
	s.logger.Warn("alert",
		slog.String("kind", string(alert.Kind)),
		slog.String("subject", alert.SubjectID),
		slog.String("scope", alert.Scope),
		slog.String("reason", alert.Reason),
	)
}

// Fanout delivers each alert to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, alert Alert) {
	for _, s := range f {
		s.Notify(ctx, alert)
	}
}
