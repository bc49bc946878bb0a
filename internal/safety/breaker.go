// Package safety implements the decision breaker: a per-evaluation state
// machine that blocks or flags risky generated decisions. Policy is a pure
// function of decision content and confidence; provider identity never
// enters the evaluation.
package safety

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vedprakash-m/vigor-llm-engine/internal/config"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// State is the breaker's position in one decision evaluation.
type State string

const (
	StateEvaluating   State = "evaluating"
	StatePassed       State = "passed"
	StateTripped      State = "tripped"
	StateAutoResolved State = "auto_resolved"
	// StateManualReview is terminal here; the review workflow itself is an
	// external collaborator's concern.
	StateManualReview State = "manual_review"
)

// Breaker trip causes, recorded as the event's breaker type.
const (
	TripLowConfidence = "low_confidence"
	TripRiskPattern   = "risk_pattern"
)

// Decision is a candidate decision submitted for evaluation.
type Decision struct {
	SubjectID    string
	Type         domain.DecisionType
	Content      string
	Confidence   float64
	Alternatives int
}

// Verdict is the breaker's ruling on one evaluation.
type Verdict struct {
	State   State
	Outcome domain.DecisionOutcome
	Reason  string
	// Event is non-nil when the evaluation produced an audit entry
	// (a trip, or a later auto-resolve).
	Event *domain.SafetyBreakerEvent
}

type rule struct {
	threshold float64
	patterns  []*regexp.Regexp
	sources   []string
	onTrip    domain.DecisionOutcome
}

type trip struct {
	at          time.Time
	breakerType string
}

// Breaker evaluates decisions against per-type confidence thresholds and
// risk patterns. Trips are remembered per subject and type so a later
// re-evaluation inside the resolve window can clear them.
type Breaker struct {
	defaultThreshold float64
	resolveWindow    time.Duration
	rules            map[domain.DecisionType]rule

	mu    sync.Mutex
	trips map[string]trip

	now func() time.Time
}

// New builds a breaker from configuration, compiling each rule's risk
// patterns up front so a bad pattern fails at startup rather than on the
// request path.
func New(cfg config.SafetyConfig) (*Breaker, error) {
	b := &Breaker{
		defaultThreshold: cfg.DefaultConfidenceThreshold,
		resolveWindow:    cfg.AutoResolveWindow,
		rules:            make(map[domain.DecisionType]rule),
		trips:            make(map[string]trip),
		now:              time.Now,
	}
	for _, rc := range cfg.Rules {
		r := rule{
			threshold: rc.ConfidenceThreshold,
			onTrip:    domain.OutcomeRejected,
		}
		if rc.OnTrip == "modify" {
			r.onTrip = domain.OutcomeModified
		}
		for _, src := range rc.RiskPatterns {
			re, err := regexp.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("compile risk pattern %q for %s: %w", src, rc.DecisionType, err)
			}
			r.patterns = append(r.patterns, re)
			r.sources = append(r.sources, src)
		}
		b.rules[domain.DecisionType(rc.DecisionType)] = r
	}
	return b, nil
}

// Evaluate runs one decision through the state machine. A previously
// tripped subject that now clears its rule within the resolve window comes
// back as AutoResolved; outside the window it stays held for manual review.
func (b *Breaker) Evaluate(d Decision) Verdict {
	r := b.ruleFor(d.Type)
	breakerType, reason := b.check(r, d)

	key := tripKey(d.SubjectID, d.Type)
	b.mu.Lock()
	prior, wasTripped := b.trips[key]
	if breakerType != "" {
		b.trips[key] = trip{at: b.now(), breakerType: breakerType}
	}
	b.mu.Unlock()

	if breakerType != "" {
		return Verdict{
			State:   StateTripped,
			Outcome: r.onTrip,
			Reason:  reason,
			Event: &domain.SafetyBreakerEvent{
				ID:          uuid.NewString(),
				CreatedAt:   b.now(),
				SubjectID:   d.SubjectID,
				BreakerType: breakerType,
				Reason:      reason,
			},
		}
	}

	if wasTripped {
		if b.now().Sub(prior.at) <= b.resolveWindow {
			b.mu.Lock()
			delete(b.trips, key)
			b.mu.Unlock()
			return Verdict{
				State:   StateAutoResolved,
				Outcome: domain.OutcomeAccepted,
				Reason:  "re-evaluation cleared the " + prior.breakerType + " trip",
				Event: &domain.SafetyBreakerEvent{
					ID:           uuid.NewString(),
					CreatedAt:    b.now(),
					SubjectID:    d.SubjectID,
					BreakerType:  prior.breakerType,
					Reason:       "auto-resolved on re-evaluation",
					AutoResolved: true,
				},
			}
		}
		// The window elapsed; the subject stays flagged until reviewed.
		return Verdict{
			State:   StateManualReview,
			Outcome: r.onTrip,
			Reason:  "resolve window elapsed; held for manual review",
		}
	}

	return Verdict{State: StatePassed, Outcome: domain.OutcomeAccepted}
}

// check returns the trip cause and reason, or empty strings on a pass.
func (b *Breaker) check(r rule, d Decision) (string, string) {
	if d.Confidence < r.threshold {
		return TripLowConfidence,
			fmt.Sprintf("confidence %.2f below threshold %.2f for %s", d.Confidence, r.threshold, d.Type)
	}
	for i, re := range r.patterns {
		if re.MatchString(d.Content) {
			return TripRiskPattern,
				fmt.Sprintf("content matched risk pattern %q for %s", r.sources[i], d.Type)
		}
	}
	return "", ""
}

func (b *Breaker) ruleFor(t domain.DecisionType) rule {
	if r, ok := b.rules[t]; ok {
		return r
	}
	return rule{threshold: b.defaultThreshold, onTrip: domain.OutcomeRejected}
}

func tripKey(subjectID string, t domain.DecisionType) string {
	return subjectID + "/" + string(t)
}
