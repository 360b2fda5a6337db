package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vetline_backend/internal/calls/backend"
	"vetline_backend/internal/calls/cache"
	callsrepo "vetline_backend/internal/calls/repository"
	callsservice "vetline_backend/internal/calls/service"
	"vetline_backend/internal/email"
	"vetline_backend/internal/floweng"
	"vetline_backend/internal/notification"
	"vetline_backend/internal/recommend"
	"vetline_backend/internal/recommend/llm"
	recrepo "vetline_backend/internal/recommend/repository"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/internal/scheduler"
	"vetline_backend/internal/sms"
	"vetline_backend/internal/voice"
	"vetline_backend/platform/config"
	"vetline_backend/platform/db"
	"vetline_backend/platform/events"
	"vetline_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The worker owns the long-running side of the pipeline: batch dispatch,
// scoring, and booking calls. The API process only enqueues.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

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

	requestsRepo := requestsrepo.New(pool)
	callsRepo := callsrepo.New(pool)
	recsRepo := recrepo.New(pool)

	voiceClient := voice.NewClient(cfg, log)
	flowClient := floweng.NewClient(cfg, log)

	direct := backend.NewDirect(cfg, voiceClient, callsRepo, results, log)
	orchestrated := backend.NewOrchestrated(cfg, cfg, flowClient, callsRepo, log)
	chooser := backend.NewRouter(cfg, direct, orchestrated, flowClient, eventBus, log)

	callsService := callsservice.New(requestsRepo, callsRepo, chooser, results, tasks, eventBus, cfg, log)

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
	recommendService := recommend.NewService(requestsRepo, callsRepo, recsRepo, engine, narrator, eventBus, log)

	smsClient := sms.NewClient(cfg, log)
	mailSender := email.NewSMTPSender(cfg)
	notification.NewModule(requestsRepo, smsClient, mailSender, log).Register(eventBus)

	worker, err := scheduler.NewWorker(cfg, callsService, recommendService, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	log.Info("worker consuming tasks", "queue", cfg.GetAsynqQueueName())
	worker.Run(ctx)
	log.Info("worker stopped")
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
