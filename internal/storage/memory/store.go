// Package memory provides the in-memory audit store used by tests and
// single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
)

// Store keeps receipts and breaker events in memory. Listings return
// copies; callers never see shared state.
type Store struct {
	mu       sync.RWMutex
	receipts map[string]*domain.DecisionReceipt
	// order preserves insertion so listings are newest-first without
	// sorting on every read.
	receiptOrder []string
	events       []domain.SafetyBreakerEvent
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{receipts: make(map[string]*domain.DecisionReceipt)}
}

func (s *Store) SaveReceipt(ctx context.Context, receipt *domain.DecisionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[receipt.ID]; exists {
		return domain.ErrInvalidRequest("receipt " + receipt.ID + " already exists")
	}
	cp := *receipt
	s.receipts[receipt.ID] = &cp
	s.receiptOrder = append(s.receiptOrder, receipt.ID)
	return nil
}

func (s *Store) FinalizeReceipt(ctx context.Context, id string, outcome domain.DecisionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return domain.ErrNotFound("receipt " + id)
	}
	if receipt.FinalizedAt != nil {
		return storage.ErrAlreadyFinalized
	}
	now := time.Now()
	receipt.Outcome = outcome
	receipt.FinalizedAt = &now
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.DecisionReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, domain.ErrNotFound("receipt " + id)
	}
	cp := *receipt
	return &cp, nil
}

func (s *Store) ListReceipts(ctx context.Context, opts storage.ListOptions) ([]domain.DecisionReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.DecisionReceipt
	for i := len(s.receiptOrder) - 1; i >= 0; i-- {
		r := s.receipts[s.receiptOrder[i]]
		if opts.DecisionType != "" && string(r.DecisionType) != opts.DecisionType {
			continue
		}
		if opts.Outcome != "" && string(r.Outcome) != opts.Outcome {
			continue
		}
		if opts.SubjectID != "" && r.SubjectID != opts.SubjectID {
			continue
		}
		matched = append(matched, *r)
	}
	return paginate(matched, opts), nil
}

func (s *Store) SaveBreakerEvent(ctx context.Context, event *domain.SafetyBreakerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *Store) ListBreakerEvents(ctx context.Context, opts storage.ListOptions) ([]domain.SafetyBreakerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.SafetyBreakerEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if opts.BreakerType != "" && e.BreakerType != opts.BreakerType {
			continue
		}
		if opts.SubjectID != "" && e.SubjectID != opts.SubjectID {
			continue
		}
		matched = append(matched, e)
	}
	return paginate(matched, opts), nil
}

func (s *Store) Close() error { return nil }

func paginate[T any](items []T, opts storage.ListOptions) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
