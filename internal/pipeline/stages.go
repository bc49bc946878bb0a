package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vedprakash-m/vigor-llm-engine/internal/notify"
	"github.com/vedprakash-m/vigor-llm-engine/internal/receipt"
	"github.com/vedprakash-m/vigor-llm-engine/internal/safety"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
)

// SafetyStage evaluates the generated decision against the breaker and
// persists any breaker event it produces.
type SafetyStage struct {
	breaker *safety.Breaker
	events  storage.BreakerEventStore
}

// NewSafetyStage creates the safety evaluation stage.
func NewSafetyStage(breaker *safety.Breaker, events storage.BreakerEventStore) *SafetyStage {
	return &SafetyStage{breaker: breaker, events: events}
}

func (s *SafetyStage) Name() string { return "safety" }

func (s *SafetyStage) Process(ctx context.Context, ev *Evaluation) error {
	subject := ev.Request.SubjectID
	if subject == "" {
		subject = ev.Request.ScopeID
	}

	ev.Verdict = s.breaker.Evaluate(safety.Decision{
		SubjectID:    subject,
		Type:         ev.Request.DecisionType,
		Content:      ev.Response.Content,
		Confidence:   ev.Request.Confidence,
		Alternatives: ev.Request.Alternatives,
	})

	ev.Result.Outcome = ev.Verdict.Outcome
	ev.Result.BreakerState = string(ev.Verdict.State)
	ev.Result.Reason = ev.Verdict.Reason

	if ev.Verdict.Event != nil {
		if err := s.events.SaveBreakerEvent(ctx, ev.Verdict.Event); err != nil {
			return fmt.Errorf("save breaker event: %w", err)
		}
	}
	return nil
}

// ReceiptStage opens the decision receipt and finalizes it with the safety
// verdict's outcome. The store enforces the exactly-once transition, so a
// retried pipeline run cannot double-finalize.
type ReceiptStage struct {
	recorder *receipt.Recorder
}

// NewReceiptStage creates the receipt recording stage.
func NewReceiptStage(recorder *receipt.Recorder) *ReceiptStage {
	return &ReceiptStage{recorder: recorder}
}

func (s *ReceiptStage) Name() string { return "receipt" }

func (s *ReceiptStage) Process(ctx context.Context, ev *Evaluation) error {
	subject := ev.Request.SubjectID
	if subject == "" {
		subject = ev.Request.ScopeID
	}

	inputs, err := json.Marshal(map[string]any{
		"prompt":   ev.Request.Prompt,
		"content":  ev.Response.Content,
		"provider": ev.Response.ProviderID,
		"model":    ev.Response.Model,
		"cached":   ev.Response.Cached,
	})
	if err != nil {
		return fmt.Errorf("marshal receipt inputs: %w", err)
	}

	id, err := s.recorder.Open(ctx, receipt.DecisionContext{
		SubjectID:    subject,
		DecisionType: ev.Request.DecisionType,
		Confidence:   ev.Request.Confidence,
		Alternatives: ev.Request.Alternatives,
		Inputs:       inputs,
		Rationale:    ev.Verdict.Reason,
	})
	if err != nil {
		return fmt.Errorf("open receipt: %w", err)
	}
	ev.ReceiptID = id
	ev.Result.ReceiptID = id

	if err := s.recorder.Finalize(ctx, id, ev.Verdict.Outcome); err != nil {
		return fmt.Errorf("finalize receipt: %w", err)
	}
	return nil
}

// NotifyStage raises an alert when the breaker held a decision. It runs
// last and never fails the pipeline; delivery is the sink's problem.
type NotifyStage struct {
	sink notify.Sink
}

// NewNotifyStage creates the notification stage.
func NewNotifyStage(sink notify.Sink) *NotifyStage {
	return &NotifyStage{sink: sink}
}

func (s *NotifyStage) Name() string { return "notify" }

func (s *NotifyStage) Process(ctx context.Context, ev *Evaluation) error {
	if ev.Verdict.State != safety.StateTripped && ev.Verdict.State != safety.StateManualReview {
		return nil
	}

	subject := ev.Request.SubjectID
	if subject == "" {
		subject = ev.Request.ScopeID
	}
	s.sink.Notify(ctx, notify.Alert{
		Kind:      notify.KindBreakerTripped,
		SubjectID: subject,
		Reason:    ev.Verdict.Reason,
		CreatedAt: time.Now(),
		Details: map[string]any{
			"decision_type": string(ev.Request.DecisionType),
			"receipt_id":    ev.ReceiptID,
			"breaker_state": string(ev.Verdict.State),
		},
	})
	return nil
}
