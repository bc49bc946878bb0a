// Package storage defines the persistence ports for the append-only audit
// data: decision receipts and safety breaker events.
package storage

import (
	"context"
	"errors"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// ErrAlreadyFinalized is returned when a second outcome transition is
// attempted on a receipt.
var ErrAlreadyFinalized = errors.New("receipt already finalized")

// ListOptions filters and paginates audit listings. Zero-value fields are
// ignored; Limit 0 uses the implementation default.
type ListOptions struct {
	Limit        int
	Offset       int
	DecisionType string
	Outcome      string
	BreakerType  string
	SubjectID    string
}

// DefaultListLimit caps unpaginated audit listings.
const DefaultListLimit = 100

// ReceiptStore persists decision receipts. Receipts are append-only:
// the only permitted mutation is the single Pending to terminal outcome
// transition applied by FinalizeReceipt.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, receipt *domain.DecisionReceipt) error

	// FinalizeReceipt applies the one allowed outcome transition. It
	// fails if the receipt does not exist or was already finalized.
	FinalizeReceipt(ctx context.Context, id string, outcome domain.DecisionOutcome) error

	GetReceipt(ctx context.Context, id string) (*domain.DecisionReceipt, error)
	ListReceipts(ctx context.Context, opts ListOptions) ([]domain.DecisionReceipt, error)
}

// BreakerEventStore persists safety breaker events. Events are immutable
// once written.
type BreakerEventStore interface {
	SaveBreakerEvent(ctx context.Context, event *domain.SafetyBreakerEvent) error
	ListBreakerEvents(ctx context.Context, opts ListOptions) ([]domain.SafetyBreakerEvent, error)
}

// Store is the combined audit store backing the engine.
type Store interface {
	ReceiptStore
	BreakerEventStore
	Close() error
}
