// Package receipt records the audit trail for AI-driven decisions. A
// receipt opens Pending, is finalized to exactly one terminal outcome, and
// is never edited afterwards; corrections are new receipts referencing the
// original.
package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
)

// DecisionContext is the snapshot captured when a receipt opens. It must
// carry enough to reconstruct why the decision was made after upstream
// state has moved on; receipts are never re-hydrated from live systems.
type DecisionContext struct {
	SubjectID    string              `json:"subject_id"`
	DecisionType domain.DecisionType `json:"decision_type"`
	Confidence   float64             `json:"confidence"`
	Alternatives int                 `json:"alternatives"`
	Inputs       json.RawMessage     `json:"inputs,omitempty"`
	Rationale    string              `json:"rationale,omitempty"`
}

// Recorder opens, finalizes, and corrects decision receipts against the
// backing store.
type Recorder struct {
	store  storage.ReceiptStore
	logger *slog.Logger
}

// NewRecorder creates a recorder backed by the given store.
func NewRecorder(store storage.ReceiptStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Open creates a Pending receipt and returns its id.
func (r *Recorder) Open(ctx context.Context, dc DecisionContext) (string, error) {
	return r.open(ctx, dc, "")
}

// Correct opens a new receipt that supersedes an earlier one. The original
// must exist and stays untouched.
func (r *Recorder) Correct(ctx context.Context, originalID string, dc DecisionContext) (string, error) {
	if _, err := r.store.GetReceipt(ctx, originalID); err != nil {
		return "", fmt.Errorf("correct receipt %s: %w", originalID, err)
	}
	return r.open(ctx, dc, originalID)
}

func (r *Recorder) open(ctx context.Context, dc DecisionContext, correctsID string) (string, error) {
	snapshot, err := json.Marshal(dc)
	if err != nil {
		return "", fmt.Errorf("marshal decision context: %w", err)
	}

	receipt := &domain.DecisionReceipt{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		SubjectID:    dc.SubjectID,
		DecisionType: dc.DecisionType,
		Confidence:   dc.Confidence,
		Alternatives: dc.Alternatives,
		Outcome:      domain.OutcomePending,
		Context:      snapshot,
		CorrectsID:   correctsID,
	}
	if err := r.store.SaveReceipt(ctx, receipt); err != nil {
		return "", fmt.Errorf("save receipt: %w", err)
	}

	if r.logger != nil {
		r.logger.Info("receipt opened",
			slog.String("receipt_id", receipt.ID),
			slog.String("subject", dc.SubjectID),
			slog.String("decision_type", string(dc.DecisionType)),
		)
	}
	return receipt.ID, nil
}

// Finalize applies the single Pending to terminal transition. A second
// finalize fails with storage.ErrAlreadyFinalized and leaves the first
// outcome in place, which guards retried flows against double-counting.
func (r *Recorder) Finalize(ctx context.Context, id string, outcome domain.DecisionOutcome) error {
	switch outcome {
	case domain.OutcomeAccepted, domain.OutcomeRejected, domain.OutcomeModified:
	default:
		return domain.ErrInvalidRequest(fmt.Sprintf("outcome %q is not terminal", outcome))
	}

	if err := r.store.FinalizeReceipt(ctx, id, outcome); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Info("receipt finalized",
			slog.String("receipt_id", id),
			slog.String("outcome", string(outcome)),
		)
	}
	return nil
}

// Get returns one receipt.
func (r *Recorder) Get(ctx context.Context, id string) (*domain.DecisionReceipt, error) {
	return r.store.GetReceipt(ctx, id)
}

// List returns receipts matching the options, newest first.
func (r *Recorder) List(ctx context.Context, opts storage.ListOptions) ([]domain.DecisionReceipt, error) {
	return r.store.ListReceipts(ctx, opts)
}
