// Package service implements call batch orchestration: starting vetting
// batches, absorbing completion notifications, and driving the follow-up
// booking call.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/backend"
	"vetline_backend/internal/calls/cache"
	"vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	requestsdomain "vetline_backend/internal/requests/domain"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/platform/apperr"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/phone"
)

// Completion sources recorded on terminal call events.
const (
	SourceWebhook           = "webhook"
	SourcePoll              = "poll"
	SourceDispatcherTimeout = "dispatcher_timeout"
)

// BackendChooser picks the execution backend for a batch.
type BackendChooser interface {
	Choose(ctx context.Context, requestID uuid.UUID) backend.ExecutionBackend
}

// TaskEnqueuer hands detached work to the background worker.
type TaskEnqueuer interface {
	EnqueueBatchDispatch(ctx context.Context, requestID uuid.UUID) error
	EnqueueAnalyze(ctx context.Context, requestID uuid.UUID) error
	EnqueueBookingDispatch(ctx context.Context, requestID, candidateID uuid.UUID) error
}

// CandidateInput is one researched provider submitted for a vetting batch.
type CandidateInput struct {
	Name        string
	Phone       string
	Rating      float64
	ReviewCount int
	Source      string
}

// Service orchestrates call batches for service requests.
type Service struct {
	requests requestsrepo.Repository
	calls    callsrepo.Repository
	chooser  BackendChooser
	results  *cache.ResultCache
	tasks    TaskEnqueuer
	bus      events.Bus
	dispatch config.DispatchConfig
	log      *logger.Logger
}

// New creates the call orchestration service.
func New(
	requests requestsrepo.Repository,
	calls callsrepo.Repository,
	chooser BackendChooser,
	results *cache.ResultCache,
	tasks TaskEnqueuer,
	bus events.Bus,
	dispatch config.DispatchConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		requests: requests,
		calls:    calls,
		chooser:  chooser,
		results:  results,
		tasks:    tasks,
		bus:      bus,
		dispatch: dispatch,
		log:      log,
	}
}

// StartBatch persists the batch's candidates and attempts, moves the request
// into CALLING, and hands dispatching to the background worker. It returns as
// soon as the batch is durably queued; callers respond 202 on success.
func (s *Service) StartBatch(ctx context.Context, requestID uuid.UUID, inputs []CandidateInput) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	if req.Status == requestsdomain.StatusPending {
		if err := s.transition(ctx, req.ID, requestsdomain.StatusPending, requestsdomain.StatusSearching, ""); err != nil {
			return err
		}
		req.Status = requestsdomain.StatusSearching
	}
	if req.Status != requestsdomain.StatusSearching {
		return apperr.Conflict(fmt.Sprintf("cannot start a batch while request is %s", req.Status))
	}

	candidates := s.dialableCandidates(requestID, inputs)
	if len(candidates) == 0 {
		reason := "no dialable candidates"
		if err := s.transition(ctx, req.ID, requestsdomain.StatusSearching, requestsdomain.StatusFailed, reason); err != nil {
			return err
		}
		return apperr.Validation(reason)
	}

	if err := s.calls.CreateCandidates(ctx, candidates); err != nil {
		return err
	}
	for _, c := range candidates {
		if _, err := s.calls.CreateAttempt(ctx, callsrepo.Attempt{
			RequestID:   requestID,
			CandidateID: c.ID,
			Phase:       domain.PhaseVetting,
		}); err != nil {
			return err
		}
	}

	if err := s.transition(ctx, req.ID, requestsdomain.StatusSearching, requestsdomain.StatusCalling, ""); err != nil {
		return err
	}

	if err := s.tasks.EnqueueBatchDispatch(ctx, requestID); err != nil {
		return fmt.Errorf("enqueue batch dispatch: %w", err)
	}

	s.log.Info("call batch queued", "service_request_id", requestID, "candidates", len(candidates))
	return nil
}

// dialableCandidates normalizes phone numbers and drops candidates that
// cannot be dialed. Dropping is logged, not fatal; the batch proceeds with
// whoever remains.
func (s *Service) dialableCandidates(requestID uuid.UUID, inputs []CandidateInput) []callsrepo.Candidate {
	out := make([]callsrepo.Candidate, 0, len(inputs))
	for _, in := range inputs {
		normalized := phone.NormalizeE164(in.Phone)
		if !phone.IsDialable(normalized) {
			s.log.Warn("dropping candidate with undialable phone",
				"service_request_id", requestID, "candidate", in.Name, "phone", in.Phone)
			continue
		}
		out = append(out, callsrepo.Candidate{
			RequestID:   requestID,
			Name:        in.Name,
			Phone:       normalized,
			Rating:      in.Rating,
			ReviewCount: in.ReviewCount,
			Source:      in.Source,
		})
	}
	return out
}

// HandleCompletion absorbs an inbound completion notification for a call.
// The outcome is surfaced to any in-flight waiter through the result cache
// and written to the store with compare-and-set semantics, so duplicate and
// late notifications degrade to enrichment.
func (s *Service) HandleCompletion(ctx context.Context, platformCallID string, token domain.CorrelationToken, outcome domain.Outcome) error {
	if platformCallID != "" {
		s.results.Set(platformCallID, outcome)
	}

	attempt, err := s.resolveAttempt(ctx, platformCallID, token)
	if err != nil {
		return err
	}

	applied, err := s.calls.ApplyOutcome(ctx, attempt.ID, outcome)
	if err != nil {
		return err
	}

	log := s.log.WithCallID(platformCallID)
	if !applied {
		if outcome.Status.IsTerminal() {
			// The attempt is already terminal; keep whatever enrichment the
			// duplicate carries.
			if err := s.calls.EnrichAttempt(ctx, attempt.ID, outcome.CostCents, outcome.Transcript); err != nil {
				return err
			}
			log.Info("duplicate terminal notification absorbed", "attempt_id", attempt.ID)
		}
		return nil
	}

	if !outcome.Status.IsTerminal() {
		return nil
	}

	s.bus.Publish(ctx, events.CallTerminal{
		BaseEvent:   events.NewBaseEvent(),
		RequestID:   attempt.RequestID,
		AttemptID:   attempt.ID,
		CandidateID: attempt.CandidateID,
		Status:      string(outcome.Status),
		Source:      SourceWebhook,
	})

	if attempt.Phase == domain.PhaseBooking {
		return s.finishBooking(ctx, attempt, outcome)
	}
	return s.maybeFinishBatch(ctx, attempt.RequestID)
}

// resolveAttempt matches a notification to its attempt, preferring the
// platform call id and falling back to the correlation token.
func (s *Service) resolveAttempt(ctx context.Context, platformCallID string, token domain.CorrelationToken) (callsrepo.Attempt, error) {
	if platformCallID != "" {
		attempt, err := s.calls.GetAttemptByPlatformCallID(ctx, platformCallID)
		if err == nil {
			return attempt, nil
		}
		var appErr *apperr.Error
		if !errors.As(err, &appErr) || appErr.Kind != apperr.KindNotFound {
			return callsrepo.Attempt{}, err
		}
	}
	if token.AttemptID != uuid.Nil {
		return s.calls.GetAttempt(ctx, token.AttemptID)
	}
	return callsrepo.Attempt{}, apperr.NotFound("call attempt not found")
}

// maybeFinishBatch re-evaluates batch completion. Every terminal update calls
// this; the CALLING -> ANALYZING compare-and-set guarantees exactly one
// caller performs the handoff no matter how many race.
func (s *Service) maybeFinishBatch(ctx context.Context, requestID uuid.UUID) error {
	remaining, err := s.calls.CountNonTerminal(ctx, requestID, domain.PhaseVetting)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	err = s.requests.TransitionStatus(ctx, requestID, requestsdomain.StatusCalling, requestsdomain.StatusAnalyzing, "")
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict {
			// Another terminal update won the handoff.
			return nil
		}
		return err
	}
	s.publishStatusChanged(ctx, requestID, requestsdomain.StatusCalling, requestsdomain.StatusAnalyzing, "")

	attempts, err := s.calls.ListAttempts(ctx, requestID, domain.PhaseVetting)
	if err != nil {
		return err
	}
	completed, timedOut := 0, 0
	for _, a := range attempts {
		switch a.Status {
		case domain.CallCompleted:
			completed++
		case domain.CallTimeout:
			timedOut++
		}
	}
	s.bus.Publish(ctx, events.BatchCompleted{
		BaseEvent: events.NewBaseEvent(),
		RequestID: requestID,
		BatchID:   requestID,
		Total:     len(attempts),
		Completed: completed,
		TimedOut:  timedOut,
	})

	if err := s.tasks.EnqueueAnalyze(ctx, requestID); err != nil {
		return fmt.Errorf("enqueue analyze: %w", err)
	}
	s.log.Info("call batch completed", "service_request_id", requestID,
		"total", len(attempts), "completed", completed, "timed_out", timedOut)
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to requestsdomain.Status, reason string) error {
	if err := s.requests.TransitionStatus(ctx, id, from, to, reason); err != nil {
		return err
	}
	s.publishStatusChanged(ctx, id, from, to, reason)
	return nil
}

func (s *Service) publishStatusChanged(ctx context.Context, id uuid.UUID, from, to requestsdomain.Status, reason string) {
	s.bus.Publish(ctx, events.RequestStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		RequestID: id,
		OldStatus: string(from),
		NewStatus: string(to),
		Reason:    reason,
	})
	if to == requestsdomain.StatusFailed {
		s.bus.Publish(ctx, events.RequestFailed{
			BaseEvent: events.NewBaseEvent(),
			RequestID: id,
			Reason:    reason,
		})
	}
}
