package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	requestsdomain "vetline_backend/internal/requests/domain"
)

func seedBatch(t *testing.T, f *fixture, requestID uuid.UUID, n int) []callsrepo.Attempt {
	t.Helper()

	attempts := make([]callsrepo.Attempt, 0, n)
	for i := 0; i < n; i++ {
		candidate := callsrepo.Candidate{
			ID:        uuid.New(),
			RequestID: requestID,
			Name:      "Provider",
			Phone:     "+15551234567",
		}
		if err := f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate}); err != nil {
			t.Fatalf("seed candidate: %v", err)
		}
		attempt, err := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
			RequestID:   requestID,
			CandidateID: candidate.ID,
			Phase:       domain.PhaseVetting,
		})
		if err != nil {
			t.Fatalf("seed attempt: %v", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts
}

func TestRunBatchDrivesEveryAttemptTerminal(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})
	seedBatch(t, f, req.ID, 4)

	if err := f.svc.RunBatch(context.Background(), req.ID); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	remaining, _ := f.calls.CountNonTerminal(context.Background(), req.ID, domain.PhaseVetting)
	if remaining != 0 {
		t.Fatalf("expected all attempts terminal, %d remain", remaining)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusAnalyzing {
		t.Fatalf("expected ANALYZING after batch, got %s", got)
	}
	if len(f.tasks.analyze) != 1 {
		t.Fatalf("expected analyze task, got %+v", f.tasks.analyze)
	}
	if terms := f.bus.byName("calls.attempt.terminal"); len(terms) != 4 {
		t.Fatalf("expected 4 terminal events, got %d", len(terms))
	}
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 2, deadline: time.Minute})
	f.exec.delay = 20 * time.Millisecond
	seedBatch(t, f, req.ID, 6)

	if err := f.svc.RunBatch(context.Background(), req.ID); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if peak := f.exec.peakConcurrency(); peak > 2 {
		t.Fatalf("concurrency bound violated: peak %d", peak)
	}
}

func TestRunBatchDeadlineForcesTimeouts(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 1, deadline: 30 * time.Millisecond})
	f.exec.delay = time.Second
	seedBatch(t, f, req.ID, 3)

	if err := f.svc.RunBatch(context.Background(), req.ID); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	remaining, _ := f.calls.CountNonTerminal(context.Background(), req.ID, domain.PhaseVetting)
	if remaining != 0 {
		t.Fatalf("deadline must terminalize every attempt, %d remain", remaining)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusAnalyzing {
		t.Fatalf("batch must still hand off to ANALYZING, got %s", got)
	}
	if f.calls.attemptsByStatus(domain.CallTimeout) == 0 {
		t.Fatal("expected at least one timeout attempt")
	}
}

func TestRunBatchSkipsAlreadyTerminalAttempts(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})
	attempts := seedBatch(t, f, req.ID, 2)

	// A webhook finished one attempt before the dispatcher picked it up.
	if _, err := f.calls.ApplyOutcome(context.Background(), attempts[0].ID, domain.Outcome{
		Status: domain.CallCompleted, EndedAt: time.Now(),
	}); err != nil {
		t.Fatalf("pre-terminalize: %v", err)
	}

	if err := f.svc.RunBatch(context.Background(), req.ID); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if terms := f.bus.byName("calls.attempt.terminal"); len(terms) != 1 {
		t.Fatalf("only the dispatched attempt should publish, got %d events", len(terms))
	}
}

func TestStartBookingQueuesBookingCall(t *testing.T) {
	req := newRequest(requestsdomain.StatusRecommended)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})

	if err := f.svc.StartBooking(context.Background(), req.ID, candidate.ID); err != nil {
		t.Fatalf("StartBooking: %v", err)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusBooking {
		t.Fatalf("expected BOOKING, got %s", got)
	}
	if len(f.tasks.bookings) != 1 {
		t.Fatalf("expected booking dispatch task, got %+v", f.tasks.bookings)
	}
}

func TestStartBookingRejectsForeignCandidate(t *testing.T) {
	req := newRequest(requestsdomain.StatusRecommended)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	foreign := callsrepo.Candidate{ID: uuid.New(), RequestID: uuid.New(), Name: "Other", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{foreign})

	err := f.svc.StartBooking(context.Background(), req.ID, foreign.ID)
	if err == nil {
		t.Fatal("expected error for candidate of another request")
	}
}

func TestRunBookingConfirmsAppointment(t *testing.T) {
	req := newRequest(requestsdomain.StatusBooking)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})
	f.exec.outcome = func(call domain.CallRequest) domain.Outcome {
		return domain.Outcome{
			Status:     domain.CallCompleted,
			Structured: &domain.StructuredOutcome{ScheduledFor: "2026-08-27T09:00:00Z"},
			EndedAt:    time.Now(),
		}
	}

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})
	if _, err := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
		RequestID: req.ID, CandidateID: candidate.ID, Phase: domain.PhaseBooking,
	}); err != nil {
		t.Fatalf("seed booking attempt: %v", err)
	}

	if err := f.svc.RunBooking(context.Background(), req.ID, candidate.ID); err != nil {
		t.Fatalf("RunBooking: %v", err)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	confirmed := f.bus.byName("calls.booking.confirmed")
	if len(confirmed) != 1 {
		t.Fatalf("expected booking confirmed event, got %d", len(confirmed))
	}
	if bc := confirmed[0].(events.BookingConfirmed); bc.Scheduled != "2026-08-27T09:00:00Z" {
		t.Fatalf("unexpected scheduled time %s", bc.Scheduled)
	}
}

func TestRunBookingWithoutConfirmationFailsRequest(t *testing.T) {
	req := newRequest(requestsdomain.StatusBooking)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})
	f.exec.outcome = func(call domain.CallRequest) domain.Outcome {
		return domain.Outcome{Status: domain.CallNoAnswer, EndedAt: time.Now()}
	}

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})
	if _, err := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
		RequestID: req.ID, CandidateID: candidate.ID, Phase: domain.PhaseBooking,
	}); err != nil {
		t.Fatalf("seed booking attempt: %v", err)
	}

	if err := f.svc.RunBooking(context.Background(), req.ID, candidate.ID); err != nil {
		t.Fatalf("RunBooking: %v", err)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
}
