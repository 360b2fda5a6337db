package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vetline_backend/internal/calls"
	"vetline_backend/internal/calls/backend"
	"vetline_backend/internal/calls/cache"
	callsrepo "vetline_backend/internal/calls/repository"
	callsservice "vetline_backend/internal/calls/service"
	"vetline_backend/internal/email"
	"vetline_backend/internal/floweng"
	apphttp "vetline_backend/internal/http"
	"vetline_backend/internal/http/router"
	"vetline_backend/internal/notification"
	"vetline_backend/internal/recommend"
	"vetline_backend/internal/recommend/llm"
	recrepo "vetline_backend/internal/recommend/repository"
	"vetline_backend/internal/requests"
	requestsrepo "vetline_backend/internal/requests/repository"
	requestsservice "vetline_backend/internal/requests/service"
	"vetline_backend/internal/scheduler"
	"vetline_backend/internal/sms"
	"vetline_backend/internal/voice"
	"vetline_backend/migrations"
	"vetline_backend/platform/config"
	"vetline_backend/platform/db"
	"vetline_backend/platform/events"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	results := cache.New()
	defer results.Close()

	tasks, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task queue client", "error", err)
		panic("failed to initialize task queue client: " + err.Error())
	}
	defer func() {
		_ = tasks.Close()
	}()

	// ========================================================================
	// Repositories and collaborator clients
	// ========================================================================

	requestsRepo := requestsrepo.New(pool)
	callsRepo := callsrepo.New(pool)
	recsRepo := recrepo.New(pool)

	voiceClient := voice.NewClient(cfg, log)
	flowClient := floweng.NewClient(cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	direct := backend.NewDirect(cfg, voiceClient, callsRepo, results, log)
	orchestrated := backend.NewOrchestrated(cfg, cfg, flowClient, callsRepo, log)
	chooser := backend.NewRouter(cfg, direct, orchestrated, flowClient, eventBus, log)

	callsService := callsservice.New(requestsRepo, callsRepo, chooser, results, tasks, eventBus, cfg, log)
	requestsService := requestsservice.New(requestsRepo, eventBus, log)
	recommendService := newRecommendService(ctx, cfg, requestsRepo, callsRepo, recsRepo, flowClient, eventBus, log)

	// Notifications are event-driven; the orchestration path never blocks on them.
	smsClient := sms.NewClient(cfg, log)
	mailSender := email.NewSMTPSender(cfg)
	notification.NewModule(requestsRepo, smsClient, mailSender, log).Register(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			requests.NewModule(requestsService, val, log),
			calls.NewModule(callsService, callsRepo, val, cfg.GetVoiceWebhookKey(), log),
			recommend.NewModule(recommendService, tasks, log),
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// newRecommendService assembles the scoring engine with its dual narrative
// path: the scoring flow on the flow engine when enabled and healthy, a
// single-shot LLM completion otherwise.
func newRecommendService(
	ctx context.Context,
	cfg *config.Config,
	requestsRepo requestsrepo.Repository,
	callsRepo callsrepo.Repository,
	recsRepo recrepo.Repository,
	flowClient *floweng.Client,
	bus events.Bus,
	log *logger.Logger,
) *recommend.Service {
	engine := recommend.NewEngine(cfg)

	var directNarrator recommend.Narrator
	if cfg.IsLLMEnabled() {
		gen, err := llm.NewGenerator(ctx, cfg)
		if err != nil {
			log.Warn("llm narrator unavailable", "error", err)
		} else {
			directNarrator = recommend.NewLLMNarrator(gen)
		}
	}

	flowNarrator := recommend.NewFlowNarrator(flowClient, cfg.GetScoringFlowName(), cfg.GetFlowEnginePollInterval())
	narrator := recommend.NewRoutingNarrator(flowNarrator, flowClient, directNarrator, cfg.IsFlowEngineEnabled(), log)

	return recommend.NewService(requestsRepo, callsRepo, recsRepo, engine, narrator, bus, log)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
