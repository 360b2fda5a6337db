package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	requestsdomain "vetline_backend/internal/requests/domain"
	"vetline_backend/platform/apperr"
)

// StartBooking queues the follow-up call that confirms an appointment with
// the provider the user selected. The request moves to BOOKING and the call
// itself runs detached.
func (s *Service) StartBooking(ctx context.Context, requestID, candidateID uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != requestsdomain.StatusRecommended {
		return apperr.Conflict(fmt.Sprintf("cannot book while request is %s", req.Status))
	}

	candidate, err := s.calls.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	if candidate.RequestID != requestID {
		return apperr.Validation("candidate does not belong to this request")
	}

	if err := s.requests.SetSelectedCandidate(ctx, requestID, candidateID); err != nil {
		return err
	}
	if _, err := s.calls.CreateAttempt(ctx, callsrepo.Attempt{
		RequestID:   requestID,
		CandidateID: candidateID,
		Phase:       domain.PhaseBooking,
	}); err != nil {
		return err
	}

	if err := s.transition(ctx, requestID, requestsdomain.StatusRecommended, requestsdomain.StatusBooking, ""); err != nil {
		return err
	}
	if err := s.tasks.EnqueueBookingDispatch(ctx, requestID, candidateID); err != nil {
		return fmt.Errorf("enqueue booking dispatch: %w", err)
	}

	s.log.Info("booking call queued", "service_request_id", requestID, "candidate_id", candidateID)
	return nil
}

// RunBooking executes the booking call. Invoked from the background worker.
func (s *Service) RunBooking(ctx context.Context, requestID, candidateID uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	candidate, err := s.calls.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}

	attempts, err := s.calls.ListAttempts(ctx, requestID, domain.PhaseBooking)
	if err != nil {
		return err
	}
	var attempt *callsrepo.Attempt
	for i := range attempts {
		if attempts[i].CandidateID == candidateID && attempts[i].Status == domain.CallQueued {
			attempt = &attempts[i]
			break
		}
	}
	if attempt == nil {
		// Nothing queued: the webhook path already finished this booking.
		return nil
	}

	// Pass along the slot from the vetting call so the agent can confirm it.
	scheduledFor := ""
	if outcomes, err := s.calls.ListTerminalOutcomes(ctx, requestID); err == nil {
		for _, o := range outcomes {
			if o.Candidate.ID == candidateID && o.Attempt.Outcome != nil {
				scheduledFor = o.Attempt.Outcome.EarliestAvailability
			}
		}
	}

	exec := s.chooser.Choose(ctx, requestID)
	outcome, err := exec.Execute(ctx, domain.CallRequest{
		AttemptID:    attempt.ID,
		RequestID:    requestID,
		CandidateID:  candidateID,
		Phase:        domain.PhaseBooking,
		Phone:        candidate.Phone,
		Provider:     candidate.Name,
		Need:         req.Description,
		Urgency:      req.Urgency,
		Address:      req.Address,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		s.log.Error("booking call execution failed", "attempt_id", attempt.ID, "error", err)
		outcome = domain.Outcome{Status: domain.CallFailed, EndedAt: time.Now()}
	}

	applied, err := s.calls.ApplyOutcome(ctx, attempt.ID, outcome)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.bus.Publish(ctx, events.CallTerminal{
		BaseEvent:   events.NewBaseEvent(),
		RequestID:   requestID,
		AttemptID:   attempt.ID,
		CandidateID: candidateID,
		Status:      string(outcome.Status),
		Source:      SourcePoll,
	})

	attemptCopy := *attempt
	attemptCopy.Status = outcome.Status
	return s.finishBooking(ctx, attemptCopy, outcome)
}

// finishBooking settles the request after the booking call terminalizes. A
// confirmed appointment completes the request; anything else fails it so the
// user is told instead of left waiting.
func (s *Service) finishBooking(ctx context.Context, attempt callsrepo.Attempt, outcome domain.Outcome) error {
	if outcome.Status == domain.CallCompleted && outcome.Structured != nil && outcome.Structured.ScheduledFor != "" {
		scheduled := outcome.Structured.ScheduledFor

		summary := fmt.Sprintf("Appointment confirmed for %s.", scheduled)
		if err := s.requests.SetOutcomeSummary(ctx, attempt.RequestID, summary); err != nil {
			return err
		}
		if err := s.transition(ctx, attempt.RequestID, requestsdomain.StatusBooking, requestsdomain.StatusCompleted, ""); err != nil {
			return err
		}
		s.bus.Publish(ctx, events.BookingConfirmed{
			BaseEvent:   events.NewBaseEvent(),
			RequestID:   attempt.RequestID,
			CandidateID: attempt.CandidateID,
			Scheduled:   scheduled,
		})
		return nil
	}

	reason := fmt.Sprintf("booking call ended %s without a confirmed appointment", outcome.Status)
	return s.transition(ctx, attempt.RequestID, requestsdomain.StatusBooking, requestsdomain.StatusFailed, reason)
}
