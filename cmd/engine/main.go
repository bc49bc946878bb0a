package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vedprakash-m/vigor-llm-engine/internal/budget"
	"github.com/vedprakash-m/vigor-llm-engine/internal/cache"
	"github.com/vedprakash-m/vigor-llm-engine/internal/config"
	"github.com/vedprakash-m/vigor-llm-engine/internal/engine"
	"github.com/vedprakash-m/vigor-llm-engine/internal/health"
	"github.com/vedprakash-m/vigor-llm-engine/internal/notify"
	"github.com/vedprakash-m/vigor-llm-engine/internal/pipeline"
	"github.com/vedprakash-m/vigor-llm-engine/internal/provider"
	"github.com/vedprakash-m/vigor-llm-engine/internal/receipt"
	"github.com/vedprakash-m/vigor-llm-engine/internal/router"
	"github.com/vedprakash-m/vigor-llm-engine/internal/safety"
	"github.com/vedprakash-m/vigor-llm-engine/internal/server"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage/memory"
	"github.com/vedprakash-m/vigor-llm-engine/internal/storage/sqlite"
	"github.com/vedprakash-m/vigor-llm-engine/internal/telemetry"
	"github.com/vedprakash-m/vigor-llm-engine/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("vigor-llm-engine", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("VIGOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfgStore := config.NewStore(cfg, configPath, logger)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer store.Close()

	registry, err := provider.Build(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to build providers: %v", err)
	}

	ledger := budget.NewLedger(limitsFor(cfgStore), logger)
	responseCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL, logger)

	counters := tokens.NewRegistry()
	counters.Register(tokens.NewOpenAICounter())

	monitor := health.NewMonitor(registry.All(), health.Options{
		ProbeInterval:      cfg.Health.ProbeInterval,
		ProbeTimeout:       cfg.Health.ProbeTimeout,
		Window:             cfg.Health.Window,
		ErrorRateThreshold: cfg.Health.ErrorRateThreshold,
		LatencyCeiling:     cfg.Health.LatencyCeiling,
		OfflineAfter:       cfg.Health.OfflineAfter,
		HealthyAfter:       cfg.Health.HealthyAfter,
	}, logger)

	rt := router.New(registry, monitor, ledger, responseCache, counters, router.Options{
		MaxAttempts:    cfg.Router.MaxAttempts,
		AttemptTimeout: cfg.Router.AttemptTimeout,
	}, logger)

	breaker, err := safety.New(cfg.Safety)
	if err != nil {
		log.Fatalf("Failed to build safety breaker: %v", err)
	}

	sinks := notify.Fanout{notify.NewLogSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:     cfg.Notify.WebhookURL,
			Timeout: cfg.Notify.Timeout,
			Retries: cfg.Notify.Retries,
		}, logger))
	}

	exec := pipeline.NewExecutor(logger,
		pipeline.NewSafetyStage(breaker, store),
		pipeline.NewReceiptStage(receipt.NewRecorder(store, logger)),
		pipeline.NewNotifyStage(sinks),
	)

	eng := engine.New(rt, exec, registry, monitor, ledger, responseCache, logger)
	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, server.NewHandlers(eng, registry, ledger, store), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	go forwardBudgetWarnings(ctx, ledger, sinks, logger)

	if err := cfgStore.Watch(func(next *config.Config) {
		// Budget and safety limits refresh from the snapshot; provider
		// topology changes still need a restart.
		for scope, limits := range next.Budget.Scopes {
			ledger.UpdateLimits(scope, budget.Limits{
				HardUSD: limits.HardLimitUSD,
				SoftUSD: limits.SoftLimitUSD,
			})
		}
		ledger.UpdateLimits(budget.GlobalScope, budget.Limits{
			HardUSD: next.Budget.GlobalHardLimitUSD,
			SoftUSD: next.Budget.GlobalSoftLimitUSD,
		})
	}); err != nil {
		logger.Error("config watch unavailable", slog.String("error", err.Error()))
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()
	logger.Info("engine started", slog.Int("port", cfg.Server.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	monitor.Stop()
	logger.Info("engine shutdown complete")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Type == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(cfg.Storage.SQLite.Path)
}

// limitsFor resolves budget limits from the live config snapshot, so an
// admin config change applies to new accounts without a restart.
func limitsFor(store *config.Store) func(scope string) budget.Limits {
	return func(scope string) budget.Limits {
		cfg := store.Current()
		if scope == budget.GlobalScope {
			return budget.Limits{
				HardUSD: cfg.Budget.GlobalHardLimitUSD,
				SoftUSD: cfg.Budget.GlobalSoftLimitUSD,
			}
		}
		limits := cfg.ScopeLimitsFor(scope)
		return budget.Limits{
			HardUSD: limits.HardLimitUSD,
			SoftUSD: limits.SoftLimitUSD,
		}
	}
}

func forwardBudgetWarnings(ctx context.Context, ledger *budget.Ledger, sink notify.Sink, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ledger.Warnings():
			logger.Warn("budget soft limit crossed",
				slog.String("scope", ev.Scope),
				slog.Float64("spent_usd", ev.SpendUSD),
				slog.Float64("soft_limit_usd", ev.SoftLimitUSD),
			)
			sink.Notify(ctx, notify.Alert{
				Kind:      notify.KindBudgetWarning,
				Scope:     ev.Scope,
				Reason:    "soft budget limit crossed",
				CreatedAt: time.Now(),
				Details: map[string]any{
					"spent_usd":      ev.SpendUSD,
					"soft_limit_usd": ev.SoftLimitUSD,
				},
			})
		}
	}
}
