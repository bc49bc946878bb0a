// Package engine is the facade tying routing and the decision pipeline
// together, and the source of the admin overview aggregates.
package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/cache"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/health"
	"github.com/vedprakash-m/vigor-llm-engine/internal/pipeline"
	"github.com/vedprakash-m/vigor-llm-engine/internal/provider"
	"github.com/vedprakash-m/vigor-llm-engine/internal/router"
)

// Engine accepts generation requests and runs them through admission,
// routing, and (for decision requests) the safety pipeline.
type Engine struct {
	router   *router.Router
	pipeline *pipeline.Executor
	registry *provider.Registry
	monitor  *health.Monitor
	ledger   *budget.Ledger
	cache    *cache.Cache
	logger   *slog.Logger
}

// New creates an engine.
func New(r *router.Router, p *pipeline.Executor, registry *provider.Registry, monitor *health.Monitor, ledger *budget.Ledger, responseCache *cache.Cache, logger *slog.Logger) *Engine {
	return &Engine{
		router:   r,
		pipeline: p,
		registry: registry,
		monitor:  monitor,
		ledger:   ledger,
		cache:    responseCache,
		logger:   logger,
	}
}

// Generate processes one request end to end. For requests carrying a
// decision type the response includes the safety verdict and receipt id;
// a held decision is still a successful response.
func (e *Engine) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := e.router.Route(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.DecisionType != "" {
		ev := &pipeline.Evaluation{Request: req, Response: resp}
		if err := e.pipeline.Run(ctx, ev); err != nil {
			// The content was generated and billed; surfacing an audit
			// failure as a provider failure would invite a retry that
			// double-spends. Log loudly and return the response without
			// an accepted decision.
			e.logger.Error("decision pipeline failed",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
			return nil, domain.ErrInternal("decision audit trail unavailable", err)
		}
		result := ev.Result
		resp.Decision = &result
	}

	return resp, nil
}

func validate(req *domain.GenerationRequest) error {
	switch {
	case req.Prompt == "":
		return domain.ErrInvalidRequest("prompt is required")
	case req.ScopeID == "":
		return domain.ErrInvalidRequest("scope_id is required")
	case req.TaskType == "":
		return domain.ErrInvalidRequest("task_type is required")
	}
	switch req.TaskType {
	case domain.TaskWorkoutGeneration, domain.TaskCoachingChat, domain.TaskPlanAdjustment, domain.TaskMotivation:
	default:
		return domain.ErrInvalidRequest("unknown task_type " + string(req.TaskType))
	}
	if req.DecisionType != "" {
		switch req.DecisionType {
		case domain.DecisionWorkoutMutation, domain.DecisionIntensityAdjustment, domain.DecisionRestDayOverride:
		default:
			return domain.ErrInvalidRequest("unknown decision_type " + string(req.DecisionType))
		}
		if req.Confidence < 0 || req.Confidence > 1 {
			return domain.ErrInvalidRequest("confidence must be within [0,1]")
		}
	}
	return nil
}
