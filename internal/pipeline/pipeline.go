// Package pipeline runs the post-routing decision flow as an ordered
// sequence of typed stages: safety evaluation, receipt finalization,
// notification. Each stage has an independently testable contract instead
// of one nested conditional.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/safety"
)

// Evaluation is the mutable state threaded through the stages for one
// decision-bearing request.
type Evaluation struct {
	Request  *domain.GenerationRequest
	Response *domain.GenerationResponse

	// Verdict is set by the safety stage; later stages read it.
	Verdict safety.Verdict

	// ReceiptID is set by the receipt stage.
	ReceiptID string

	// Result accumulates what the caller sees.
	Result domain.DecisionResult
}

// Stage is one step of the decision flow.
type Stage interface {
	Name() string
	Process(ctx context.Context, ev *Evaluation) error
}

// Executor runs stages sequentially. A stage error aborts the rest; the
// pipeline never reorders or skips stages.
type Executor struct {
	stages []Stage
	logger *slog.Logger
}

// NewExecutor creates an executor over the given stages, in order.
func NewExecutor(logger *slog.Logger, stages ...Stage) *Executor {
	return &Executor{stages: stages, logger: logger}
}

// Run processes one evaluation through every stage.
func (e *Executor) Run(ctx context.Context, ev *Evaluation) error {
	for _, stage := range e.stages {
		if err := stage.Process(ctx, ev); err != nil {
			return fmt.Errorf("pipeline stage %s: %w", stage.Name(), err)
		}
		if e.logger != nil {
			e.logger.Debug("pipeline stage complete",
				slog.String("stage", stage.Name()),
				slog.String("outcome", string(ev.Result.Outcome)),
			)
		}
	}
	return nil
}
