package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/cache"
	"github.com/vedprakash-m/vigor-llm-engine/internal/config"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
	"github.com/vedprakash-m/vigor-llm-engine/internal/engine"
	"github.com/vedprakash-m/vigor-llm-engine/internal/health"
	"github.com/vedprakash-m/vigor-llm-engine/internal/notify"
	"github.com/vedprakash-m/vigor-llm-engine/internal/pipeline"
	"github.com/vedprakash-m/vigor-llm-engine/internal/provider"
	"github.com/vedprakash-m/vigor-llm-engine/internal/receipt"
	"github.com/vedprakash-m/vigor-llm-engine/internal/router"
	"github.com/vedprakash-m/vigor-llm-engine/internal/safety"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage/memory"
	"github.com/vedprakash-m/vigor-llm-engine/internal/tokens"
)

type fakeProvider struct {
	id  string
	err error
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              f.id,
		Vendor:          "openai",
		Model:           "gpt-4o-mini",
		Enabled:         true,
		MaxTokens:       200,
		InputCostPer1K:  0.01,
		OutputCostPer1K: 0.03,
	}
}

func (f *fakeProvider) Probe(ctx context.Context) error { return f.err }

func (f *fakeProvider) Complete(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProviderResult{
		Content: "3 sets of goblet squats",
		Usage:   domain.Usage{PromptTokens: 40, CompletionTokens: 30, TotalTokens: 70},
		Latency: 12 * time.Millisecond,
	}, nil
}

type testStack struct {
	router   *chi.Mux
	registry *provider.Registry
	ledger   *budget.Ledger
	store    *memory.Store
}

func newTestStack(t *testing.T, p *fakeProvider, hardLimit float64) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := provider.NewRegistry()
	if err := reg.Register(p, true); err != nil {
		t.Fatal(err)
	}
	monitor := health.NewMonitor(reg.All(), health.Options{}, nil)
	ledger := budget.NewLedger(func(string) budget.Limits {
		return budget.Limits{HardUSD: hardLimit}
	}, nil)
	responseCache := cache.New(64, time.Minute, nil)

	rt := router.New(reg, monitor, ledger, responseCache, tokens.NewRegistry(),
		router.Options{MaxAttempts: 3, AttemptTimeout: time.Second}, nil)

	breaker, err := safety.New(config.SafetyConfig{
		DefaultConfidenceThreshold: 0.60,
		AutoResolveWindow:          10 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	store := memory.New()
	exec := pipeline.NewExecutor(nil,
		pipeline.NewSafetyStage(breaker, store),
		pipeline.NewReceiptStage(receipt.NewRecorder(store, nil)),
		pipeline.NewNotifyStage(notify.Fanout{}),
	)

	eng := engine.New(rt, exec, reg, monitor, ledger, responseCache, logger)
	srv := New(0, time.Minute, NewHandlers(eng, reg, ledger, store), logger)
	return &testStack{router: srv.Router, registry: reg, ledger: ledger, store: store}
}

func (ts *testStack) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func generateBody() map[string]any {
	return map[string]any{
		"prompt":    "suggest a beginner workout",
		"task_type": "workout_generation",
		"scope_id":  "user-1",
	}
}

func TestGenerateOK(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)

	rec := ts.do(t, http.MethodPost, "/v1/generate", generateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp domain.GenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProviderID != "openai-main" || resp.Content == "" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("request id missing")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestGenerateBudgetExhausted(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 0.000001)

	rec := ts.do(t, http.MethodPost, "/v1/generate", generateBody())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Kind != string(domain.KindBudgetExhausted) {
		t.Errorf("kind = %s, want budget_exhausted", body.Error.Kind)
	}
}

func TestGenerateAllProvidersUnavailable(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main", err: errors.New("down")}, 10)

	rec := ts.do(t, http.MethodPost, "/v1/generate", generateBody())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestGenerateInvalidRequest(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)

	rec := ts.do(t, http.MethodPost, "/v1/generate", map[string]any{"task_type": "workout_generation"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateHeldDecisionIs200(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)

	body := generateBody()
	body["decision_type"] = "workout_mutation"
	body["subject_id"] = "user-1"
	body["confidence"] = 0.40

	rec := ts.do(t, http.MethodPost, "/v1/generate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, a safety hold is not an HTTP error", rec.Code)
	}

	var resp domain.GenerationResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Decision == nil {
		t.Fatal("decision result missing")
	}
	if resp.Decision.Outcome == domain.OutcomeAccepted {
		t.Error("tripped decision was accepted")
	}
	if resp.Decision.ReceiptID == "" {
		t.Error("receipt id missing")
	}
}

func TestProviderToggle(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)

	rec := ts.do(t, http.MethodPut, "/admin/providers/openai-main", map[string]any{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ts.registry.IsEnabled("openai-main") {
		t.Error("provider still enabled")
	}

	// Disabled providers leave no candidates.
	gen := ts.do(t, http.MethodPost, "/v1/generate", generateBody())
	if gen.Code != http.StatusServiceUnavailable {
		t.Errorf("generate after disable = %d, want 503", gen.Code)
	}

	if rec := ts.do(t, http.MethodPut, "/admin/providers/ghost", map[string]any{"enabled": true}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/admin/providers/openai-main", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing flag status = %d, want 400", rec.Code)
	}
}

func TestBudgetUpdate(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)

	rec := ts.do(t, http.MethodPut, "/admin/budgets/user-1", map[string]any{
		"hard_limit_usd": 25.0,
		"soft_limit_usd": 20.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	_, hard := ts.ledger.Usage("user-1")
	if hard != 25.0 {
		t.Errorf("hard limit = %f, want 25", hard)
	}

	if rec := ts.do(t, http.MethodPut, "/admin/budgets/user-1", map[string]any{"hard_limit_usd": -1.0}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative hard limit = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/admin/budgets/user-1", map[string]any{"hard_limit_usd": 5.0, "soft_limit_usd": 9.0}); rec.Code != http.StatusBadRequest {
		t.Errorf("soft above hard = %d, want 400", rec.Code)
	}
}

func TestOverviewEndpoint(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)
	ts.do(t, http.MethodPost, "/v1/generate", generateBody())

	rec := ts.do(t, http.MethodGet, "/admin/overview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var ov engine.Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ov.TotalModels != 1 {
		t.Errorf("total models = %d", ov.TotalModels)
	}
	if _, ok := ov.Providers["openai-main"]; !ok {
		t.Error("provider missing from overview")
	}
}

func seedAudit(t *testing.T, ts *testStack) {
	t.Helper()
	ctx := context.Background()
	for i, id := range []string{"r-1", "r-2"} {
		outcome := domain.OutcomeAccepted
		if i == 1 {
			outcome = domain.OutcomeRejected
		}
		err := ts.store.SaveReceipt(ctx, &domain.DecisionReceipt{
			ID:           id,
			CreatedAt:    time.Now(),
			SubjectID:    "user-1",
			DecisionType: domain.DecisionWorkoutMutation,
			Confidence:   0.7,
			Outcome:      outcome,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := ts.store.SaveBreakerEvent(ctx, &domain.SafetyBreakerEvent{
		ID:          "e-1",
		CreatedAt:   time.Now(),
		SubjectID:   "user-1",
		BreakerType: "low_confidence",
		Reason:      "confidence 0.40 below threshold 0.60",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestReceiptsListJSON(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)
	seedAudit(t, ts)

	rec := ts.do(t, http.MethodGet, "/admin/receipts?outcome=rejected", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Receipts []domain.DecisionReceipt `json:"receipts"`
		Count    int                      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Receipts[0].ID != "r-2" {
		t.Errorf("body = %+v, want only the rejected receipt", body)
	}
}

func TestReceiptsCSVExport(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)
	seedAudit(t, ts)

	rec := ts.do(t, http.MethodGet, "/admin/receipts?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %s", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 receipts", len(rows))
	}
	if rows[0][0] != "id" || rows[0][6] != "outcome" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestBreakerEventsCSVViaAcceptHeader(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)
	seedAudit(t, ts)

	rec := ts.do(t, http.MethodGet, "/admin/breaker-events", nil, "Accept", "text/csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1 event", len(rows))
	}
	if !strings.Contains(strings.Join(rows[0], ","), "breaker_type") {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][3] != "low_confidence" {
		t.Errorf("event row = %v", rows[1])
	}
}

func TestBreakerEventsFilter(t *testing.T) {
	ts := newTestStack(t, &fakeProvider{id: "openai-main"}, 10)
	seedAudit(t, ts)

	rec := ts.do(t, http.MethodGet, "/admin/breaker-events?breaker_type=risk_pattern", nil)
	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 0 {
		t.Errorf("count = %d, want 0 for unmatched filter", body.Count)
	}
}
