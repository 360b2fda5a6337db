package scheduler

import (
	"context"
	"fmt"

	"vetline_backend/platform/apperr"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// BatchRunner executes the call side of the pipeline on the worker.
type BatchRunner interface {
	RunBatch(ctx context.Context, requestID uuid.UUID) error
	RunBooking(ctx context.Context, requestID, candidateID uuid.UUID) error
}

// Analyzer runs scoring and recommendation for a completed batch.
type Analyzer interface {
	Analyze(ctx context.Context, requestID uuid.UUID) error
}

// Worker consumes orchestration tasks from the asynq queue.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	batches  BatchRunner
	analyzer Analyzer
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, batches BatchRunner, analyzer Analyzer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		batches:  batches,
		analyzer: analyzer,
		log:      log,
	}

	mux.HandleFunc(TaskBatchDispatch, w.handleBatchDispatch)
	mux.HandleFunc(TaskAnalyzeRequest, w.handleAnalyzeRequest)
	mux.HandleFunc(TaskBookingDispatch, w.handleBookingDispatch)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleBatchDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBatchDispatchPayload(task)
	if err != nil {
		return err
	}

	requestID, err := uuid.Parse(payload.RequestID)
	if err != nil {
		return err
	}

	if err := w.batches.RunBatch(ctx, requestID); err != nil {
		return w.dropOrRetry(err, "batch dispatch", requestID)
	}
	return nil
}

func (w *Worker) handleAnalyzeRequest(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAnalyzeRequestPayload(task)
	if err != nil {
		return err
	}

	requestID, err := uuid.Parse(payload.RequestID)
	if err != nil {
		return err
	}

	if err := w.analyzer.Analyze(ctx, requestID); err != nil {
		return w.dropOrRetry(err, "analyze", requestID)
	}
	return nil
}

func (w *Worker) handleBookingDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBookingDispatchPayload(task)
	if err != nil {
		return err
	}

	requestID, err := uuid.Parse(payload.RequestID)
	if err != nil {
		return err
	}
	candidateID, err := uuid.Parse(payload.CandidateID)
	if err != nil {
		return err
	}

	if err := w.batches.RunBooking(ctx, requestID, candidateID); err != nil {
		return w.dropOrRetry(err, "booking dispatch", requestID)
	}
	return nil
}

// dropOrRetry decides whether a handler error should be retried by asynq.
// Conflicts mean another worker already advanced the request, validation and
// not-found errors will not heal on retry. Everything else is retriable.
func (w *Worker) dropOrRetry(err error, op string, requestID uuid.UUID) error {
	if apperr.Is(err, apperr.KindConflict) || apperr.Is(err, apperr.KindValidation) || apperr.Is(err, apperr.KindNotFound) {
		w.log.Warn("task dropped", "op", op, "service_request_id", requestID, "error", err)
		return nil
	}
	w.log.Error("task failed, will retry", "op", op, "service_request_id", requestID, "error", err)
	return err
}
