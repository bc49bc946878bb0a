// Package router selects a provider for each generation request under the
// budget, health, and cache policies, and applies bounded sequential
// failover across candidates.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/cache"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/provider"
	"github.com/vedprakash-m/vigor-llm-engine/internal/tokens"
)

// HealthReader is the router's read-only view of the health monitor.
type HealthReader interface {
	Record(providerID string) (domain.HealthRecord, bool)
}

// Options bounds the failover loop.
type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// Composite score weights: a percentage point of error rate costs as much
// as a second of average latency times ten.
const (
	latencyWeight   = 1.0
	errorRateWeight = 10.0
)

// fallbackMaxTokens bounds the output-cost estimate when neither the
// request nor the descriptor caps completion length.
const fallbackMaxTokens = 1024

// Router routes generation requests.
type Router struct {
	registry *provider.Registry
	health   HealthReader
	ledger   *budget.Ledger
	cache    *cache.Cache
	tokens   *tokens.Registry
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a router.
func New(registry *provider.Registry, health HealthReader, ledger *budget.Ledger, responseCache *cache.Cache, counters *tokens.Registry, opts Options, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		health:   health,
		ledger:   ledger,
		cache:    responseCache,
		tokens:   counters,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("router"),
	}
}

// Route admits, serves from cache when allowed, or dispatches to the best
// available provider with sequential failover. Providers are never tried
// in parallel: speculative dispatch would double-count reservations and
// double-bill on dual success.
func (r *Router) Route(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("task_type", string(req.TaskType)),
			attribute.String("scope", req.ScopeID),
			attribute.Bool("cacheable", req.Cacheable),
		))
	defer span.End()

	// Admission before anything else: a denied request contacts no
	// provider and reads no cache.
	admission, err := r.ledger.Reserve(req.ScopeID, r.admissionEstimate(req))
	if err != nil {
		return nil, err
	}

	fingerprint := cache.Fingerprint(req)
	if req.Cacheable {
		if entry, ok := r.cache.Lookup(fingerprint); ok {
			r.ledger.Commit(admission, 0)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return &domain.GenerationResponse{
				RequestID:  req.RequestID,
				Content:    entry.Content,
				ProviderID: entry.ProviderID,
				Model:      entry.Model,
				Cached:     true,
				Usage:      entry.Usage,
			}, nil
		}
	}

	candidates := r.candidates(req)
	if len(candidates) == 0 {
		r.ledger.Release(admission)
		return nil, domain.ErrAllProvidersUnavailable("no providers available", nil)
	}

	attempts := r.opts.MaxAttempts
	if attempts > len(candidates) {
		attempts = len(candidates)
	}

	// Each attempt holds its own fresh reservation so a retry sequence
	// cannot silently breach the budget. The admission hold is replaced
	// by the first attempt's hold.
	reservation := admission
	var lastErr error
	for i := 0; i < attempts; i++ {
		p := candidates[i]
		desc := p.Descriptor()

		r.ledger.Release(reservation)
		reservation, err = r.ledger.Reserve(req.ScopeID, r.estimate(desc, req))
		if err != nil {
			return nil, err
		}

		result, attemptErr := r.attempt(ctx, p, req)
		if attemptErr != nil {
			r.ledger.Release(reservation)
			reservation = nil

			// A caller-side cancellation is not a provider fault;
			// stop immediately and bill nothing.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = domain.ErrProvider(p.ID(), attemptErr)
			if r.logger != nil {
				r.logger.Warn("provider attempt failed",
					slog.String("provider", p.ID()),
					slog.Int("attempt", i+1),
					slog.String("error", attemptErr.Error()),
				)
			}
			continue
		}

		actual := desc.Cost(result.Usage)
		r.ledger.Commit(reservation, actual)

		if req.Cacheable {
			r.cache.Store(fingerprint, cache.Entry{
				Content:    result.Content,
				ProviderID: p.ID(),
				Model:      desc.Model,
				Usage:      result.Usage,
			}, 0)
		}

		span.SetAttributes(
			attribute.String("provider", p.ID()),
			attribute.Int("attempts", i+1),
		)
		return &domain.GenerationResponse{
			RequestID:  req.RequestID,
			Content:    result.Content,
			ProviderID: p.ID(),
			Model:      desc.Model,
			Usage:      result.Usage,
			CostUSD:    actual,
			Latency:    result.Latency,
			LatencyMS:  result.Latency.Milliseconds(),
		}, nil
	}

	if reservation != nil {
		r.ledger.Release(reservation)
	}
	return nil, domain.ErrAllProvidersUnavailable(
		fmt.Sprintf("all %d candidate providers failed", attempts), lastErr)
}

func (r *Router) attempt(ctx context.Context, p domain.Provider, req *domain.GenerationRequest) (*domain.ProviderResult, error) {
	attemptCtx := ctx
	if r.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.opts.AttemptTimeout)
		defer cancel()
	}
	return p.Complete(attemptCtx, req)
}

// candidates returns enabled, non-offline providers ordered by composite
// score: healthy before degraded (degraded means elevated risk, not
// unavailability), then lower latency and error rate, ties broken by the
// most recent successful probe.
func (r *Router) candidates(req *domain.GenerationRequest) []domain.Provider {
	type scored struct {
		p        domain.Provider
		degraded bool
		score    float64
		lastUse  time.Time
	}

	var list []scored
	for _, p := range r.registry.Enabled() {
		if req.Model != "" && p.Descriptor().Model != req.Model {
			continue
		}

		rec, ok := r.health.Record(p.ID())
		if !ok {
			// Not yet probed; treat as healthy with no history.
			list = append(list, scored{p: p})
			continue
		}
		if rec.Status == domain.StatusOffline {
			continue
		}
		list = append(list, scored{
			p:        p,
			degraded: rec.Status == domain.StatusDegraded,
			score:    rec.AvgLatency.Seconds()*latencyWeight + rec.ErrorRate*errorRateWeight,
			lastUse:  rec.LastSuccess,
		})
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].degraded != list[j].degraded {
			return !list[i].degraded
		}
		if list[i].score != list[j].score {
			return list[i].score < list[j].score
		}
		return list[i].lastUse.After(list[j].lastUse)
	})

	out := make([]domain.Provider, len(list))
	for i, s := range list {
		out[i] = s.p
	}
	return out
}

// estimate prices a request against one provider's rates before dispatch.
func (r *Router) estimate(desc domain.ProviderDescriptor, req *domain.GenerationRequest) float64 {
	promptTokens := r.tokens.Count(desc.Model, req.Prompt)
	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = desc.MaxTokens
	}
	if maxOut <= 0 {
		maxOut = fallbackMaxTokens
	}
	return float64(promptTokens)/1000*desc.InputCostPer1K +
		float64(maxOut)/1000*desc.OutputCostPer1K
}

// admissionEstimate is the conservative pre-selection estimate: the most
// expensive enabled provider's price for this request. The per-attempt
// reservation replaces it once a candidate is chosen.
func (r *Router) admissionEstimate(req *domain.GenerationRequest) float64 {
	var max float64
	for _, p := range r.registry.Enabled() {
		if est := r.estimate(p.Descriptor(), req); est > max {
			max = est
		}
	}
	return max
}
