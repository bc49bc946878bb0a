package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/engine"
	"github.com/vedprakash-m/vigor-llm-engine/internal/provider"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
)

// Handlers binds the HTTP surface to the engine and its collaborators.
type Handlers struct {
	engine   *engine.Engine
	registry *provider.Registry
	ledger   *budget.Ledger
	store    storage.Store
}

// NewHandlers creates the handler set.
func NewHandlers(e *engine.Engine, registry *provider.Registry, ledger *budget.Ledger, store storage.Store) *Handlers {
	return &Handlers{engine: e, registry: registry, ledger: ledger, store: store}
}

// Mount registers all routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/v1/generate", h.Generate)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/overview", h.Overview)
		r.Put("/providers/{id}", h.UpdateProvider)
		r.Put("/budgets/{scope}", h.UpdateBudget)
		r.Get("/receipts", h.ListReceipts)
		r.Get("/breaker-events", h.ListBreakerEvents)
	})
}

// Generate handles POST /v1/generate. A decision held by the safety
// breaker is a successful response with decision.outcome rejected or
// modified, not an error.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidRequest("malformed request body"))
		return
	}
	req.RequestID = GetRequestID(r.Context())

	resp, err := h.engine.Generate(r.Context(), &req)
	if err != nil {
		AddLogField(r.Context(), "error", err.Error())
		writeError(w, err)
		return
	}

	AddLogField(r.Context(), "provider", resp.ProviderID)
	writeJSON(w, http.StatusOK, resp)
}

// Overview handles GET /admin/overview.
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Overview())
}

// UpdateProvider handles PUT /admin/providers/{id}. The toggle takes
// effect on the next routing decision, no restart required.
func (h *Handlers) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, domain.ErrInvalidRequest("body must carry an enabled flag"))
		return
	}

	if err := h.registry.SetEnabled(id, *body.Enabled); err != nil {
		writeError(w, domain.ErrNotFound("provider "+id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *body.Enabled})
}

// UpdateBudget handles PUT /admin/budgets/{scope}. In-flight reservations
// against the old limits are honored.
func (h *Handlers) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")

	var body struct {
		HardLimitUSD float64 `json:"hard_limit_usd"`
		SoftLimitUSD float64 `json:"soft_limit_usd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.ErrInvalidRequest("malformed request body"))
		return
	}
	if body.HardLimitUSD <= 0 {
		writeError(w, domain.ErrInvalidRequest("hard_limit_usd must be positive"))
		return
	}
	if body.SoftLimitUSD > body.HardLimitUSD {
		writeError(w, domain.ErrInvalidRequest("soft_limit_usd must not exceed hard_limit_usd"))
		return
	}

	h.ledger.UpdateLimits(scope, budget.Limits{
		HardUSD: body.HardLimitUSD,
		SoftUSD: body.SoftLimitUSD,
	})

	spent, hard := h.ledger.Usage(scope)
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":          scope,
		"hard_limit_usd": hard,
		"spent_usd":      spent,
	})
}

// ListReceipts handles GET /admin/receipts with pagination, filters, and
// CSV export for compliance review.
func (h *Handlers) ListReceipts(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	opts.DecisionType = r.URL.Query().Get("decision_type")
	opts.Outcome = r.URL.Query().Get("outcome")
	opts.SubjectID = r.URL.Query().Get("subject_id")

	receipts, err := h.store.ListReceipts(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsCSV(r) {
		writeReceiptsCSV(w, receipts)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipts": receipts,
		"count":    len(receipts),
		"offset":   opts.Offset,
	})
}

// ListBreakerEvents handles GET /admin/breaker-events.
func (h *Handlers) ListBreakerEvents(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	opts.BreakerType = r.URL.Query().Get("breaker_type")
	opts.SubjectID = r.URL.Query().Get("subject_id")

	events, err := h.store.ListBreakerEvents(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsCSV(r) {
		writeEventsCSV(w, events)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"offset": opts.Offset,
	})
}

func listOptions(r *http.Request) storage.ListOptions {
	var opts storage.ListOptions
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

func wantsCSV(r *http.Request) bool {
	if r.URL.Query().Get("format") == "csv" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

func writeReceiptsCSV(w http.ResponseWriter, receipts []domain.DecisionReceipt) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "created_at", "subject_id", "decision_type", "confidence", "alternatives", "outcome", "corrects_id", "finalized_at"})
	for _, rec := range receipts {
		finalized := ""
		if rec.FinalizedAt != nil {
			finalized = rec.FinalizedAt.Format(time.RFC3339)
		}
		cw.Write([]string{
			rec.ID,
			rec.CreatedAt.Format(time.RFC3339),
			rec.SubjectID,
			string(rec.DecisionType),
			strconv.FormatFloat(rec.Confidence, 'f', 2, 64),
			strconv.Itoa(rec.Alternatives),
			string(rec.Outcome),
			rec.CorrectsID,
			finalized,
		})
	}
	cw.Flush()
}

func writeEventsCSV(w http.ResponseWriter, events []domain.SafetyBreakerEvent) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="breaker-events.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "created_at", "subject_id", "breaker_type", "reason", "auto_resolved"})
	for _, e := range events {
		cw.Write([]string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.SubjectID,
			e.BreakerType,
			e.Reason,
			strconv.FormatBool(e.AutoResolved),
		})
	}
	cw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ee *domain.EngineError
	if !errors.As(err, &ee) {
		ee = domain.ErrInternal("internal error", nil)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ee.HTTPStatusCode())
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":    ee.Kind,
			"message": ee.Message,
			"scope":   ee.Scope,
		},
	})
}
