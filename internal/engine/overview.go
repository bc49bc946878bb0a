package engine

import (
	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/cache"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// Overview is the admin health aggregate.
type Overview struct {
	ActiveModels int                       `json:"active_models"`
	TotalModels  int                       `json:"total_models"`
	CacheStats   cache.Stats               `json:"cache_stats"`
	BudgetStatus BudgetStatus              `json:"budget_status"`
	Providers    map[string]ProviderHealth `json:"providers"`
}

// BudgetStatus summarizes the global budget account.
type BudgetStatus struct {
	TotalUsage      float64 `json:"total_usage"`
	GlobalLimit     float64 `json:"global_limit"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// ProviderHealth is one provider's health as shown to admins.
type ProviderHealth struct {
	IsHealthy bool    `json:"is_healthy"`
	Status    string  `json:"status"`
	LatencyMS int64   `json:"latency_ms"`
	ErrorRate float64 `json:"error_rate"`
}

// Overview assembles the admin aggregate from live component state.
func (e *Engine) Overview() Overview {
	descriptors := e.registry.Descriptors()
	records := e.monitor.Snapshot()

	ov := Overview{
		TotalModels: len(descriptors),
		CacheStats:  e.cache.Stats(),
		Providers:   make(map[string]ProviderHealth, len(descriptors)),
	}

	for _, d := range descriptors {
		rec, probed := records[d.ID]
		if !probed {
			rec = domain.HealthRecord{ProviderID: d.ID, Status: domain.StatusHealthy}
		}
		if d.Enabled && rec.Status != domain.StatusOffline {
			ov.ActiveModels++
		}
		ov.Providers[d.ID] = ProviderHealth{
			IsHealthy: rec.Status == domain.StatusHealthy,
			Status:    string(rec.Status),
			LatencyMS: rec.AvgLatency.Milliseconds(),
			ErrorRate: rec.ErrorRate,
		}
	}

	spent, limit := e.ledger.Usage(budget.GlobalScope)
	ov.BudgetStatus = BudgetStatus{TotalUsage: spent, GlobalLimit: limit}
	if limit > 0 {
		ov.BudgetStatus.UsagePercentage = spent / limit * 100
	}
	return ov
}
