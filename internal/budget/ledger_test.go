package budget

import (
	"math"
	"sync"
	"testing"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

func newTestLedger(scopeHard, scopeSoft float64) *Ledger {
	return NewLedger(func(scope string) Limits {
		if scope == GlobalScope {
			return Limits{HardUSD: 1000, SoftUSD: 900}
		}
		return Limits{HardUSD: scopeHard, SoftUSD: scopeSoft}
	}, nil)
}

func TestReserveCommitDelta(t *testing.T) {
	l := newTestLedger(5.0, 4.0)

	// Seed spend at 4.90 per the admin scenario.
	res, err := l.Reserve("user-42", 4.90)
	if err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	l.Commit(res, 4.90)

	// Estimated 0.20 exceeds remaining headroom: typed denial, fast.
	if _, err := l.Reserve("user-42", 0.20); err == nil {
		t.Fatal("reserve over hard limit should fail")
	} else if domain.KindOf(err) != domain.KindBudgetExhausted {
		t.Errorf("denial kind = %s, want budget_exhausted", domain.KindOf(err))
	}

	// Estimated 0.05 fits; actual 0.07 commits the delta.
	res, err = l.Reserve("user-42", 0.05)
	if err != nil {
		t.Fatalf("reserve within headroom: %v", err)
	}
	l.Commit(res, 0.07)

	spent, hard := l.Usage("user-42")
	if math.Abs(spent-4.97) > 1e-9 {
		t.Errorf("spend = %f, want 4.97", spent)
	}
	if hard != 5.0 {
		t.Errorf("hard limit = %f, want 5.0", hard)
	}
}

func TestReleaseRestoresHeadroom(t *testing.T) {
	l := newTestLedger(1.0, 0.8)

	res, err := l.Reserve("user-1", 0.9)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Headroom is consumed by the open reservation.
	if _, err := l.Reserve("user-1", 0.2); err == nil {
		t.Fatal("second reserve should be denied while first is open")
	}

	l.Release(res)

	if _, err := l.Reserve("user-1", 0.2); err != nil {
		t.Errorf("reserve after release failed: %v", err)
	}

	spent, _ := l.Usage("user-1")
	if spent != 0 {
		t.Errorf("release must not adjust spend, got %f", spent)
	}
}

func TestConcurrentReservationsNeverBreachHardLimit(t *testing.T) {
	const (
		workers  = 50
		estimate = 0.10
		hard     = 1.0
	)
	l := newTestLedger(hard, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted []*Reservation

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := l.Reserve("user-7", estimate); err == nil {
				mu.Lock()
				admitted = append(admitted, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only 10 reservations of 0.10 fit under 1.00.
	if len(admitted) != 10 {
		t.Errorf("admitted %d reservations, want 10", len(admitted))
	}

	for _, res := range admitted {
		l.Commit(res, estimate)
	}
	spent, _ := l.Usage("user-7")
	if spent > hard+1e-9 {
		t.Errorf("committed spend %f exceeds hard limit %f", spent, hard)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l := newTestLedger(1.0, 0)

	res, err := l.Reserve("user-a", 1.0)
	if err != nil {
		t.Fatalf("reserve user-a: %v", err)
	}
	l.Commit(res, 1.0)

	// user-a is exhausted; user-b is untouched.
	if _, err := l.Reserve("user-a", 0.01); err == nil {
		t.Error("user-a should be exhausted")
	}
	if _, err := l.Reserve("user-b", 0.5); err != nil {
		t.Errorf("user-b should be unaffected: %v", err)
	}
}

func TestGlobalLimitCapsAllScopes(t *testing.T) {
	l := NewLedger(func(scope string) Limits {
		if scope == GlobalScope {
			return Limits{HardUSD: 1.0}
		}
		return Limits{HardUSD: 100.0}
	}, nil)

	res, err := l.Reserve("user-a", 0.8)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	l.Commit(res, 0.8)

	// Scope headroom is plentiful but the global account is nearly spent.
	_, err = l.Reserve("user-b", 0.5)
	if err == nil {
		t.Fatal("global limit should deny")
	}
	var ee *domain.EngineError
	if !asEngineError(err, &ee) || ee.Scope != GlobalScope {
		t.Errorf("denial should name the global scope, got %v", err)
	}

	// The failed global reservation must not leak a scope-level hold.
	if _, err := l.Reserve("user-b", 0.2); err != nil {
		t.Errorf("smaller reserve should fit: %v", err)
	}
}

func TestSoftLimitWarningEdgeTriggered(t *testing.T) {
	l := newTestLedger(10.0, 2.0)

	commit := func(amount float64) {
		t.Helper()
		res, err := l.Reserve("user-9", amount)
		if err != nil {
			t.Fatalf("reserve %f: %v", amount, err)
		}
		l.Commit(res, amount)
	}

	commit(1.5)
	select {
	case ev := <-l.Warnings():
		t.Fatalf("warning before soft limit: %+v", ev)
	default:
	}

	commit(1.0) // crosses 2.0
	select {
	case ev := <-l.Warnings():
		if ev.Scope != "user-9" {
			t.Errorf("warning scope = %s", ev.Scope)
		}
	default:
		t.Fatal("expected warning after crossing soft limit")
	}

	commit(1.0) // still above, no second warning
	select {
	case ev := <-l.Warnings():
		t.Fatalf("duplicate warning: %+v", ev)
	default:
	}

	// Raising the limits above current spend re-arms the warning.
	l.UpdateLimits("user-9", Limits{HardUSD: 20.0, SoftUSD: 8.0})
	commit(5.0) // 8.5 crosses the new 8.0
	select {
	case <-l.Warnings():
	default:
		t.Fatal("expected warning after re-armed crossing")
	}
}

func asEngineError(err error, target **domain.EngineError) bool {
	ee, ok := err.(*domain.EngineError)
	if ok {
		*target = ee
	}
	return ok
}
