package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vetline_backend/internal/calls/backend"
	"vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
)

// RunBatch executes every queued attempt of a vetting batch. Concurrency is
// bounded by a weighted semaphore and the whole batch runs under one
// deadline; attempts still in flight when it expires are terminalized as
// timeout. Invoked from the background worker, never from a request handler.
func (s *Service) RunBatch(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	attempts, err := s.calls.ListAttempts(ctx, requestID, domain.PhaseVetting)
	if err != nil {
		return err
	}
	candidates, err := s.calls.ListCandidates(ctx, requestID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]callsrepo.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	exec := s.chooser.Choose(ctx, requestID)

	batchCtx, cancel := context.WithTimeout(ctx, s.dispatch.GetBatchDeadline())
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.dispatch.GetBatchMaxConcurrency()))
	var wg sync.WaitGroup

	for _, attempt := range attempts {
		if attempt.Status != domain.CallQueued {
			continue
		}
		candidate, ok := byID[attempt.CandidateID]
		if !ok {
			s.log.Error("attempt without candidate", "attempt_id", attempt.ID)
			continue
		}

		if err := sem.Acquire(batchCtx, 1); err != nil {
			// Deadline hit while waiting for a slot; the remaining attempts
			// are swept up by the timeout pass below.
			break
		}

		wg.Add(1)
		go func(attempt callsrepo.Attempt, candidate callsrepo.Candidate) {
			defer wg.Done()
			defer sem.Release(1)
			s.runCall(batchCtx, exec, domain.CallRequest{
				AttemptID:   attempt.ID,
				RequestID:   requestID,
				CandidateID: attempt.CandidateID,
				Phase:       domain.PhaseVetting,
				Phone:       candidate.Phone,
				Provider:    candidate.Name,
				Need:        req.Description,
				Criteria:    req.Criteria,
				Urgency:     req.Urgency,
				Address:     req.Address,
			})
		}(attempt, candidate)
	}

	wg.Wait()

	// Stragglers exist when the deadline fired mid-flight or a call was
	// never picked up. Terminalize them so the batch can always finish.
	// Use the parent context: batchCtx may already be dead.
	forced, err := s.calls.ForceTimeout(ctx, requestID, domain.PhaseVetting)
	if err != nil {
		return err
	}
	if forced > 0 {
		s.log.Warn("batch deadline forced timeouts", "service_request_id", requestID, "count", forced)
		s.bus.Publish(ctx, events.CallTerminal{
			BaseEvent: events.NewBaseEvent(),
			RequestID: requestID,
			Status:    string(domain.CallTimeout),
			Source:    SourceDispatcherTimeout,
		})
	}

	return s.maybeFinishBatch(ctx, requestID)
}

// runCall drives one attempt to a terminal status. Execution errors become a
// failed outcome; an attempt never stays non-terminal because of them.
func (s *Service) runCall(ctx context.Context, exec backend.ExecutionBackend, call domain.CallRequest) {
	outcome, err := exec.Execute(ctx, call)
	if err != nil {
		s.log.Error("call execution failed", "attempt_id", call.AttemptID, "error", err)
		outcome = domain.Outcome{Status: domain.CallFailed, EndedAt: time.Now()}
	}

	applied, err := s.calls.ApplyOutcome(ctx, call.AttemptID, outcome)
	if err != nil {
		s.log.Error("apply call outcome failed", "attempt_id", call.AttemptID, "error", err)
		return
	}
	if !applied {
		// The webhook path already terminalized this attempt.
		return
	}

	s.bus.Publish(ctx, events.CallTerminal{
		BaseEvent:   events.NewBaseEvent(),
		RequestID:   call.RequestID,
		AttemptID:   call.AttemptID,
		CandidateID: call.CandidateID,
		Status:      string(outcome.Status),
		Source:      SourcePoll,
	})
}
