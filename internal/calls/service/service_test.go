package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/backend"
	"vetline_backend/internal/calls/cache"
	"vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	requestsdomain "vetline_backend/internal/requests/domain"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/platform/apperr"
	"vetline_backend/platform/logger"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeRequests struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]requestsrepo.ServiceRequest
}

func newFakeRequests(reqs ...requestsrepo.ServiceRequest) *fakeRequests {
	f := &fakeRequests{reqs: make(map[uuid.UUID]requestsrepo.ServiceRequest)}
	for _, r := range reqs {
		f.reqs[r.ID] = r
	}
	return f
}

func (f *fakeRequests) Create(ctx context.Context, req requestsrepo.ServiceRequest) (requestsrepo.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	f.reqs[req.ID] = req
	return req, nil
}

func (f *fakeRequests) GetByID(ctx context.Context, id uuid.UUID) (requestsrepo.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return requestsrepo.ServiceRequest{}, apperr.NotFound("service request not found")
	}
	return req, nil
}

func (f *fakeRequests) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]requestsrepo.ServiceRequest, error) {
	return nil, nil
}

func (f *fakeRequests) TransitionStatus(ctx context.Context, id uuid.UUID, from, to requestsdomain.Status, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return apperr.NotFound("service request not found")
	}
	if !requestsdomain.CanTransition(from, to) {
		return apperr.Conflict(fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	if req.Status != from {
		return apperr.Conflict(fmt.Sprintf("request no longer in %s", from))
	}
	req.Status = to
	if to == requestsdomain.StatusFailed && reason != "" {
		req.FailureReason = &reason
	}
	f.reqs[id] = req
	return nil
}

func (f *fakeRequests) SetSelectedCandidate(ctx context.Context, id, candidateID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.reqs[id]
	req.SelectedCandidateID = &candidateID
	f.reqs[id] = req
	return nil
}

func (f *fakeRequests) SetOutcomeSummary(ctx context.Context, id uuid.UUID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.reqs[id]
	req.OutcomeSummary = &summary
	f.reqs[id] = req
	return nil
}

func (f *fakeRequests) status(id uuid.UUID) requestsdomain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[id].Status
}

type fakeCalls struct {
	mu         sync.Mutex
	candidates map[uuid.UUID]callsrepo.Candidate
	attempts   map[uuid.UUID]callsrepo.Attempt
	enriched   []uuid.UUID
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{
		candidates: make(map[uuid.UUID]callsrepo.Candidate),
		attempts:   make(map[uuid.UUID]callsrepo.Attempt),
	}
}

func (f *fakeCalls) CreateCandidates(ctx context.Context, candidates []callsrepo.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range candidates {
		if candidates[i].ID == uuid.Nil {
			candidates[i].ID = uuid.New()
		}
		f.candidates[candidates[i].ID] = candidates[i]
	}
	return nil
}

func (f *fakeCalls) GetCandidate(ctx context.Context, id uuid.UUID) (callsrepo.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[id]
	if !ok {
		return callsrepo.Candidate{}, apperr.NotFound("provider candidate not found")
	}
	return c, nil
}

func (f *fakeCalls) ListCandidates(ctx context.Context, requestID uuid.UUID) ([]callsrepo.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []callsrepo.Candidate
	for _, c := range f.candidates {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCalls) CreateAttempt(ctx context.Context, attempt callsrepo.Attempt) (callsrepo.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Status == "" {
		attempt.Status = domain.CallQueued
	}
	f.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (f *fakeCalls) GetAttempt(ctx context.Context, id uuid.UUID) (callsrepo.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return callsrepo.Attempt{}, apperr.NotFound("call attempt not found")
	}
	return a, nil
}

func (f *fakeCalls) GetAttemptByPlatformCallID(ctx context.Context, platformCallID string) (callsrepo.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.PlatformCallID != nil && *a.PlatformCallID == platformCallID {
			return a, nil
		}
	}
	return callsrepo.Attempt{}, apperr.NotFound("call attempt not found")
}

func (f *fakeCalls) ListAttempts(ctx context.Context, requestID uuid.UUID, phase domain.Phase) ([]callsrepo.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []callsrepo.Attempt
	for _, a := range f.attempts {
		if a.RequestID == requestID && a.Phase == phase {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeCalls) ListTerminalOutcomes(ctx context.Context, requestID uuid.UUID) ([]callsrepo.TerminalOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []callsrepo.TerminalOutcome
	for _, a := range f.attempts {
		if a.RequestID == requestID && a.Phase == domain.PhaseVetting && a.Status.IsTerminal() {
			out = append(out, callsrepo.TerminalOutcome{Candidate: f.candidates[a.CandidateID], Attempt: a})
		}
	}
	return out, nil
}

func (f *fakeCalls) SetPlacement(ctx context.Context, attemptID uuid.UUID, backend domain.BackendKind, platformCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.attempts[attemptID]
	a.Backend = &backend
	a.PlatformCallID = &platformCallID
	if a.Status == domain.CallQueued {
		a.Status = domain.CallRinging
	}
	f.attempts[attemptID] = a
	return nil
}

func (f *fakeCalls) ApplyOutcome(ctx context.Context, attemptID uuid.UUID, outcome domain.Outcome) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return false, apperr.NotFound("call attempt not found")
	}
	if a.Status.IsTerminal() {
		return false, nil
	}
	if !outcome.Status.IsTerminal() {
		if a.Status == domain.CallQueued || a.Status == domain.CallRinging {
			a.Status = outcome.Status
			f.attempts[attemptID] = a
			return true, nil
		}
		return false, nil
	}
	a.Status = outcome.Status
	if outcome.Transcript != "" {
		a.Transcript = &outcome.Transcript
	}
	if outcome.Structured != nil {
		a.Outcome = outcome.Structured
	}
	a.CostCents = outcome.CostCents
	f.attempts[attemptID] = a
	return true, nil
}

func (f *fakeCalls) EnrichAttempt(ctx context.Context, attemptID uuid.UUID, costCents int64, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enriched = append(f.enriched, attemptID)
	return nil
}

func (f *fakeCalls) CountNonTerminal(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.attempts {
		if a.RequestID == requestID && a.Phase == phase && !a.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

func (f *fakeCalls) ForceTimeout(ctx context.Context, requestID uuid.UUID, phase domain.Phase) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	forced := 0
	for id, a := range f.attempts {
		if a.RequestID == requestID && a.Phase == phase && !a.Status.IsTerminal() {
			a.Status = domain.CallTimeout
			f.attempts[id] = a
			forced++
		}
	}
	return forced, nil
}

func (f *fakeCalls) attemptsByStatus(status domain.CallStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.attempts {
		if a.Status == status {
			count++
		}
	}
	return count
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(eventName string, handler events.Handler) {}

func (b *recordingBus) byName(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingTasks struct {
	mu       sync.Mutex
	batch    []uuid.UUID
	analyze  []uuid.UUID
	bookings []uuid.UUID
}

func (t *recordingTasks) EnqueueBatchDispatch(ctx context.Context, requestID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batch = append(t.batch, requestID)
	return nil
}

func (t *recordingTasks) EnqueueAnalyze(ctx context.Context, requestID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.analyze = append(t.analyze, requestID)
	return nil
}

func (t *recordingTasks) EnqueueBookingDispatch(ctx context.Context, requestID, candidateID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bookings = append(t.bookings, requestID)
	return nil
}

type dispatchStubConfig struct {
	concurrency int
	deadline    time.Duration
}

func (c dispatchStubConfig) GetBatchMaxConcurrency() int     { return c.concurrency }
func (c dispatchStubConfig) GetBatchDeadline() time.Duration { return c.deadline }

// stubExecutor is a canned execution backend that records peak concurrency.
type stubExecutor struct {
	mu       sync.Mutex
	inflight int
	peak     int
	delay    time.Duration
	outcome  func(call domain.CallRequest) domain.Outcome
}

func (e *stubExecutor) Kind() domain.BackendKind { return domain.BackendDirect }

func (e *stubExecutor) Execute(ctx context.Context, call domain.CallRequest) (domain.Outcome, error) {
	e.mu.Lock()
	e.inflight++
	if e.inflight > e.peak {
		e.peak = e.inflight
	}
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
		}
	}

	e.mu.Lock()
	e.inflight--
	e.mu.Unlock()

	if ctx.Err() != nil {
		return domain.Outcome{Status: domain.CallTimeout, EndedAt: time.Now()}, nil
	}
	if e.outcome != nil {
		return e.outcome(call), nil
	}
	return domain.Outcome{Status: domain.CallCompleted, EndedAt: time.Now()}, nil
}

func (e *stubExecutor) peakConcurrency() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

type stubChooser struct {
	exec *stubExecutor
}

func (c stubChooser) Choose(ctx context.Context, requestID uuid.UUID) backend.ExecutionBackend {
	return c.exec
}

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc      *Service
	requests *fakeRequests
	calls    *fakeCalls
	bus      *recordingBus
	tasks    *recordingTasks
	exec     *stubExecutor
	results  *cache.ResultCache
}

func newFixture(t *testing.T, req requestsrepo.ServiceRequest, dispatch dispatchStubConfig) *fixture {
	t.Helper()

	f := &fixture{
		requests: newFakeRequests(req),
		calls:    newFakeCalls(),
		bus:      &recordingBus{},
		tasks:    &recordingTasks{},
		exec:     &stubExecutor{},
		results:  cache.NewWithTTL(time.Minute, time.Minute),
	}
	t.Cleanup(f.results.Close)

	f.svc = New(f.requests, f.calls, stubChooser{exec: f.exec}, f.results, f.tasks, f.bus, dispatch, logger.New("development"))
	return f
}

func newRequest(status requestsdomain.Status) requestsrepo.ServiceRequest {
	return requestsrepo.ServiceRequest{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Description: "burst pipe under kitchen sink",
		Criteria:    []string{"licensed", "available this week"},
		Urgency:     "high",
		Address:     "12 Oak St, Springfield",
		Status:      status,
	}
}

// ---------------------------------------------------------------------------
// StartBatch
// ---------------------------------------------------------------------------

func TestStartBatchQueuesCallsAndTransitions(t *testing.T) {
	req := newRequest(requestsdomain.StatusPending)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	err := f.svc.StartBatch(context.Background(), req.ID, []CandidateInput{
		{Name: "Northside Plumbing", Phone: "(555) 123-4567", Rating: 4.8, ReviewCount: 120, Source: "places"},
		{Name: "Rapid Rooter", Phone: "555-987-6543", Rating: 4.2, ReviewCount: 48, Source: "places"},
		{Name: "No Phone Plumbing", Phone: "not a number", Rating: 5.0, ReviewCount: 3, Source: "places"},
	})
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	if got := f.requests.status(req.ID); got != requestsdomain.StatusCalling {
		t.Fatalf("expected CALLING, got %s", got)
	}
	if got := f.calls.attemptsByStatus(domain.CallQueued); got != 2 {
		t.Fatalf("expected 2 queued attempts after dropping the undialable candidate, got %d", got)
	}
	if len(f.tasks.batch) != 1 || f.tasks.batch[0] != req.ID {
		t.Fatalf("expected one batch dispatch task, got %+v", f.tasks.batch)
	}
}

func TestStartBatchFailsRequestWithoutDialableCandidates(t *testing.T) {
	req := newRequest(requestsdomain.StatusSearching)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	err := f.svc.StartBatch(context.Background(), req.ID, []CandidateInput{
		{Name: "Ghost Plumbing", Phone: "nope"},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if len(f.bus.byName("requests.failed")) != 1 {
		t.Fatal("expected requests.failed event")
	}
}

func TestStartBatchRejectsWrongStatus(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	err := f.svc.StartBatch(context.Background(), req.ID, []CandidateInput{
		{Name: "Northside Plumbing", Phone: "(555) 123-4567"},
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// HandleCompletion
// ---------------------------------------------------------------------------

func TestHandleCompletionAppliesOutcomeAndFinishesBatch(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})
	attempt, _ := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
		RequestID: req.ID, CandidateID: candidate.ID, Phase: domain.PhaseVetting,
	})
	_ = f.calls.SetPlacement(context.Background(), attempt.ID, domain.BackendDirect, "call-1")

	outcome := domain.Outcome{
		Status:     domain.CallCompleted,
		Transcript: "spoke with dispatcher",
		Structured: &domain.StructuredOutcome{Availability: domain.AvailableNow},
		EndedAt:    time.Now(),
	}
	if err := f.svc.HandleCompletion(context.Background(), "call-1", domain.CorrelationToken{}, outcome); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}

	if cached, ok := f.results.GetTerminal("call-1"); !ok || cached.Status != domain.CallCompleted {
		t.Fatal("outcome must be observable through the result cache")
	}
	if got := f.requests.status(req.ID); got != requestsdomain.StatusAnalyzing {
		t.Fatalf("last terminal update must move the request to ANALYZING, got %s", got)
	}
	if len(f.tasks.analyze) != 1 {
		t.Fatalf("expected analyze task enqueued, got %+v", f.tasks.analyze)
	}
	terms := f.bus.byName("calls.attempt.terminal")
	if len(terms) != 1 {
		t.Fatalf("expected 1 terminal event, got %d", len(terms))
	}
	if ct := terms[0].(events.CallTerminal); ct.Source != SourceWebhook {
		t.Fatalf("expected webhook source, got %s", ct.Source)
	}
	if len(f.bus.byName("calls.batch.completed")) != 1 {
		t.Fatal("expected batch completed event")
	}
}

func TestHandleCompletionDuplicateIsAbsorbed(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})
	attempt, _ := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
		RequestID: req.ID, CandidateID: candidate.ID, Phase: domain.PhaseVetting,
	})
	_ = f.calls.SetPlacement(context.Background(), attempt.ID, domain.BackendDirect, "call-1")

	first := domain.Outcome{Status: domain.CallCompleted, EndedAt: time.Now()}
	if err := f.svc.HandleCompletion(context.Background(), "call-1", domain.CorrelationToken{}, first); err != nil {
		t.Fatalf("first HandleCompletion: %v", err)
	}
	dup := domain.Outcome{Status: domain.CallFailed, CostCents: 42, EndedAt: time.Now()}
	if err := f.svc.HandleCompletion(context.Background(), "call-1", domain.CorrelationToken{}, dup); err != nil {
		t.Fatalf("duplicate HandleCompletion: %v", err)
	}

	got, _ := f.calls.GetAttempt(context.Background(), attempt.ID)
	if got.Status != domain.CallCompleted {
		t.Fatalf("duplicate must not overwrite terminal status, got %s", got.Status)
	}
	if len(f.calls.enriched) != 1 {
		t.Fatalf("duplicate should enrich the attempt, enriched=%v", f.calls.enriched)
	}
	if terms := f.bus.byName("calls.attempt.terminal"); len(terms) != 1 {
		t.Fatalf("duplicate must not publish a second terminal event, got %d", len(terms))
	}
}

func TestHandleCompletionFallsBackToCorrelationToken(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	candidate := callsrepo.Candidate{ID: uuid.New(), RequestID: req.ID, Name: "Northside Plumbing", Phone: "+15551234567"}
	_ = f.calls.CreateCandidates(context.Background(), []callsrepo.Candidate{candidate})
	attempt, _ := f.calls.CreateAttempt(context.Background(), callsrepo.Attempt{
		RequestID: req.ID, CandidateID: candidate.ID, Phase: domain.PhaseVetting,
	})

	// Webhook lands before placement recorded the platform call id.
	token := domain.CorrelationToken{RequestID: req.ID, CandidateID: candidate.ID, AttemptID: attempt.ID}
	outcome := domain.Outcome{Status: domain.CallNoAnswer, EndedAt: time.Now()}
	if err := f.svc.HandleCompletion(context.Background(), "call-unseen", token, outcome); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}

	got, _ := f.calls.GetAttempt(context.Background(), attempt.ID)
	if got.Status != domain.CallNoAnswer {
		t.Fatalf("expected no_answer, got %s", got.Status)
	}
}

func TestHandleCompletionUnknownAttempt(t *testing.T) {
	req := newRequest(requestsdomain.StatusCalling)
	f := newFixture(t, req, dispatchStubConfig{concurrency: 5, deadline: time.Minute})

	err := f.svc.HandleCompletion(context.Background(), "call-unknown", domain.CorrelationToken{}, domain.Outcome{Status: domain.CallCompleted})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
