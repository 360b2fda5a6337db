package recommend

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	callsdomain "vetline_backend/internal/calls/domain"
	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	recrepo "vetline_backend/internal/recommend/repository"
	requestsdomain "vetline_backend/internal/requests/domain"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/platform/apperr"
	"vetline_backend/platform/logger"
)

type stubRequests struct {
	mu  sync.Mutex
	req requestsrepo.ServiceRequest
}

func (s *stubRequests) GetByID(ctx context.Context, id uuid.UUID) (requestsrepo.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.req.ID != id {
		return requestsrepo.ServiceRequest{}, apperr.NotFound("service request not found")
	}
	return s.req, nil
}

func (s *stubRequests) TransitionStatus(ctx context.Context, id uuid.UUID, from, to requestsdomain.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.req.Status != from {
		return apperr.Conflict(fmt.Sprintf("request no longer in %s", from))
	}
	s.req.Status = to
	return nil
}

func (s *stubRequests) status() requestsdomain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req.Status
}

type stubOutcomes struct {
	outcomes []callsrepo.TerminalOutcome
}

func (s *stubOutcomes) ListTerminalOutcomes(ctx context.Context, requestID uuid.UUID) ([]callsrepo.TerminalOutcome, error) {
	return s.outcomes, nil
}

type stubRecs struct {
	mu      sync.Mutex
	entries []recrepo.Recommendation
	writes  int
}

func (s *stubRecs) ReplaceRanked(ctx context.Context, requestID uuid.UUID, entries []recrepo.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.writes++
	return nil
}

func (s *stubRecs) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]recrepo.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, nil
}

type stubNarrator struct {
	summary string
	err     error
	calls   int
}

func (s *stubNarrator) Summarize(ctx context.Context, req requestsrepo.ServiceRequest, ranked Ranked) (string, error) {
	s.calls++
	return s.summary, s.err
}

type collectingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *collectingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *collectingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *collectingBus) Subscribe(eventName string, handler events.Handler) {}

func (b *collectingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

func qualifiedOutcome(name string) callsrepo.TerminalOutcome {
	return callsrepo.TerminalOutcome{
		Candidate: callsrepo.Candidate{ID: uuid.New(), Name: name},
		Attempt: callsrepo.Attempt{
			Status: callsdomain.CallCompleted,
			Outcome: &callsdomain.StructuredOutcome{
				Availability:  callsdomain.AvailableNow,
				CriteriaMatch: map[string]bool{"licensed": true},
			},
		},
	}
}

func newService(reqs *stubRequests, outs *stubOutcomes, recs *stubRecs, narrator *stubNarrator, bus *collectingBus) *Service {
	return NewService(reqs, outs, recs, NewEngine(weightsConfig{}), narrator, bus, logger.New("development"))
}

func TestAnalyzeAdvancesToRecommended(t *testing.T) {
	req := requestsrepo.ServiceRequest{ID: uuid.New(), Status: requestsdomain.StatusAnalyzing, Description: "fix boiler"}
	reqs := &stubRequests{req: req}
	outs := &stubOutcomes{outcomes: []callsrepo.TerminalOutcome{qualifiedOutcome("Northside Plumbing")}}
	recs := &stubRecs{}
	narrator := &stubNarrator{summary: "Northside Plumbing can come today."}
	bus := &collectingBus{}

	if err := newService(reqs, outs, recs, narrator, bus).Analyze(context.Background(), req.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if got := reqs.status(); got != requestsdomain.StatusRecommended {
		t.Fatalf("expected RECOMMENDED, got %s", got)
	}
	if len(recs.entries) != 1 || recs.entries[0].Summary == "" {
		t.Fatalf("ranked list not persisted: %+v", recs.entries)
	}
	names := bus.names()
	found := false
	for _, n := range names {
		if n == "recommend.ready" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recommend.ready event, got %v", names)
	}
}

func TestAnalyzeStaysAnalyzingWithoutQualifiedProviders(t *testing.T) {
	req := requestsrepo.ServiceRequest{ID: uuid.New(), Status: requestsdomain.StatusAnalyzing}
	reqs := &stubRequests{req: req}
	outs := &stubOutcomes{outcomes: []callsrepo.TerminalOutcome{
		{Attempt: callsrepo.Attempt{Status: callsdomain.CallNoAnswer}},
	}}
	narrator := &stubNarrator{summary: "unused"}

	err := newService(reqs, outs, &stubRecs{}, narrator, &collectingBus{}).Analyze(context.Background(), req.ID)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := reqs.status(); got != requestsdomain.StatusAnalyzing {
		t.Fatalf("request must stay ANALYZING, got %s", got)
	}
	if narrator.calls != 0 {
		t.Fatal("narrator must not run without qualified providers")
	}
}

func TestAnalyzeStaysAnalyzingWhenNarrativeFails(t *testing.T) {
	req := requestsrepo.ServiceRequest{ID: uuid.New(), Status: requestsdomain.StatusAnalyzing}
	reqs := &stubRequests{req: req}
	outs := &stubOutcomes{outcomes: []callsrepo.TerminalOutcome{qualifiedOutcome("Northside Plumbing")}}
	recs := &stubRecs{}
	narrator := &stubNarrator{err: fmt.Errorf("both paths down")}

	err := newService(reqs, outs, recs, narrator, &collectingBus{}).Analyze(context.Background(), req.ID)
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := reqs.status(); got != requestsdomain.StatusAnalyzing {
		t.Fatalf("request must stay ANALYZING, got %s", got)
	}
	if recs.writes != 0 {
		t.Fatal("no ranked list may be persisted without a narrative")
	}
}

func TestAnalyzeIsRetriable(t *testing.T) {
	req := requestsrepo.ServiceRequest{ID: uuid.New(), Status: requestsdomain.StatusAnalyzing}
	reqs := &stubRequests{req: req}
	outs := &stubOutcomes{outcomes: []callsrepo.TerminalOutcome{qualifiedOutcome("Northside Plumbing")}}
	recs := &stubRecs{}
	narrator := &stubNarrator{err: fmt.Errorf("transient")}
	svc := newService(reqs, outs, recs, narrator, &collectingBus{})

	if err := svc.Analyze(context.Background(), req.ID); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	narrator.err = nil
	narrator.summary = "Northside Plumbing is the best fit."
	if err := svc.Analyze(context.Background(), req.ID); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if got := reqs.status(); got != requestsdomain.StatusRecommended {
		t.Fatalf("expected RECOMMENDED after retry, got %s", got)
	}
	if recs.writes != 1 {
		t.Fatalf("expected exactly one persisted list, got %d", recs.writes)
	}
}

func TestAnalyzeRejectsWrongStatus(t *testing.T) {
	req := requestsrepo.ServiceRequest{ID: uuid.New(), Status: requestsdomain.StatusCalling}
	reqs := &stubRequests{req: req}

	err := newService(reqs, &stubOutcomes{}, &stubRecs{}, &stubNarrator{}, &collectingBus{}).Analyze(context.Background(), req.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
