// Package budget enforces spend limits through a reserve-then-commit
// ledger. Admission is checked-and-reserved atomically per scope, so two
// concurrent requests can never both squeeze through headroom that only
// fits one.
package budget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// GlobalScope is the ledger-wide account every request also reserves
// against.
const GlobalScope = "global"

// Limits are the hard and soft thresholds for one scope.
type Limits struct {
	HardUSD float64
	SoftUSD float64
}

// Reservation is a provisional hold created before the actual cost is
// known. It is resolved by exactly one Commit or Release.
type Reservation struct {
	ID           string
	Scope        string
	EstimatedUSD float64
}

// WarningEvent is emitted when committed spend crosses a scope's soft
// limit. Edge-triggered: once per crossing.
type WarningEvent struct {
	Scope        string
	SpendUSD     float64
	SoftLimitUSD float64
	HardLimitUSD float64
	At           time.Time
}

// account serializes all budget mutations for one scope. Different scopes
// proceed fully in parallel; contention is bounded to actual collisions.
type account struct {
	mu       sync.Mutex
	limits   Limits
	spent    float64
	reserved float64
	open     map[string]float64 // reservation id -> estimate
	warned   bool
}

// Ledger tracks committed and reserved spend per scope plus globally.
type Ledger struct {
	mu        sync.RWMutex
	accounts  map[string]*account
	limitsFor func(scope string) Limits
	warnings  chan WarningEvent
	logger    *slog.Logger
}

// NewLedger creates a ledger. limitsFor resolves limits for scopes seen
// for the first time (including GlobalScope) and is consulted once per
// scope; later changes go through UpdateLimits.
func NewLedger(limitsFor func(scope string) Limits, logger *slog.Logger) *Ledger {
	return &Ledger{
		accounts:  make(map[string]*account),
		limitsFor: limitsFor,
		warnings:  make(chan WarningEvent, 16),
		logger:    logger,
	}
}

// Warnings returns the soft-limit crossing stream.
func (l *Ledger) Warnings() <-chan WarningEvent {
	return l.warnings
}

func (l *Ledger) account(scope string) *account {
	l.mu.RLock()
	a, ok := l.accounts[scope]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[scope]; ok {
		return a
	}
	a = &account{
		limits: l.limitsFor(scope),
		open:   make(map[string]float64),
	}
	l.accounts[scope] = a
	return a
}

// Reserve places a hold for the estimated cost against both the scope and
// the global account. A denial by either leaves no residue. The returned
// error is a typed budget_exhausted rejection, never a generic failure.
func (l *Ledger) Reserve(scope string, estimatedUSD float64) (*Reservation, error) {
	if estimatedUSD < 0 {
		return nil, fmt.Errorf("negative estimate: %f", estimatedUSD)
	}

	res := &Reservation{
		ID:           uuid.New().String(),
		Scope:        scope,
		EstimatedUSD: estimatedUSD,
	}

	if err := l.account(scope).reserve(res.ID, estimatedUSD); err != nil {
		return nil, domain.ErrBudgetExhausted(scope,
			fmt.Sprintf("budget limit reached for scope %s", scope))
	}

	if err := l.account(GlobalScope).reserve(res.ID, estimatedUSD); err != nil {
		l.account(scope).release(res.ID)
		return nil, domain.ErrBudgetExhausted(GlobalScope, "global budget limit reached")
	}

	return res, nil
}

// Commit finalizes a reservation with the actual cost, applying the delta
// between estimate and actual. Unknown or already-resolved reservations
// are ignored (the first resolution wins).
func (l *Ledger) Commit(res *Reservation, actualUSD float64) {
	if res == nil {
		return
	}
	l.commitScope(res.Scope, res.ID, actualUSD)
	l.commitScope(GlobalScope, res.ID, actualUSD)
}

func (l *Ledger) commitScope(scope, reservationID string, actualUSD float64) {
	a := l.account(scope)
	spend, limits, crossed := a.commit(reservationID, actualUSD)
	if !crossed {
		return
	}

	if l.logger != nil {
		l.logger.Warn("budget soft limit crossed",
			slog.String("scope", scope),
			slog.Float64("spend_usd", spend),
			slog.Float64("soft_limit_usd", limits.SoftUSD),
		)
	}
	select {
	case l.warnings <- WarningEvent{
		Scope:        scope,
		SpendUSD:     spend,
		SoftLimitUSD: limits.SoftUSD,
		HardLimitUSD: limits.HardUSD,
		At:           time.Now(),
	}:
	default:
	}
}

// Release returns a reservation without adjusting spend. Used when the
// attempt failed or was cancelled before any cost was incurred.
func (l *Ledger) Release(res *Reservation) {
	if res == nil {
		return
	}
	l.account(res.Scope).release(res.ID)
	l.account(GlobalScope).release(res.ID)
}

// UpdateLimits swaps a scope's limits. Existing reservations are honored;
// the soft-limit warning re-arms if the new threshold sits above current
// spend.
func (l *Ledger) UpdateLimits(scope string, limits Limits) {
	a := l.account(scope)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits = limits
	if a.spent < limits.SoftUSD {
		a.warned = false
	}
}

// Usage reports committed spend and the hard limit for a scope.
func (l *Ledger) Usage(scope string) (spentUSD, hardLimitUSD float64) {
	a := l.account(scope)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spent, a.limits.HardUSD
}

func (a *account) reserve(id string, estimate float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spent+a.reserved+estimate > a.limits.HardUSD {
		return fmt.Errorf("insufficient headroom")
	}
	a.reserved += estimate
	a.open[id] = estimate
	return nil
}

func (a *account) commit(id string, actual float64) (spend float64, limits Limits, crossedSoft bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	estimate, ok := a.open[id]
	if !ok {
		return a.spent, a.limits, false
	}
	delete(a.open, id)
	a.reserved -= estimate
	a.spent += actual

	if !a.warned && a.limits.SoftUSD > 0 && a.spent >= a.limits.SoftUSD {
		a.warned = true
		return a.spent, a.limits, true
	}
	return a.spent, a.limits, false
}

func (a *account) release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	estimate, ok := a.open[id]
	if !ok {
		return
	}
	delete(a.open, id)
	a.reserved -= estimate
}
