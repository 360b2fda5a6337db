package recommend

import (
	"context"
	"errors"

	"github.com/google/uuid"

	callsrepo "vetline_backend/internal/calls/repository"
	"vetline_backend/internal/events"
	recrepo "vetline_backend/internal/recommend/repository"
	requestsdomain "vetline_backend/internal/requests/domain"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/platform/apperr"
	"vetline_backend/platform/logger"
)

// RequestStore is the slice of the requests repository the service needs.
type RequestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (requestsrepo.ServiceRequest, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to requestsdomain.Status, reason string) error
}

// OutcomeStore is the slice of the calls repository the service needs.
type OutcomeStore interface {
	ListTerminalOutcomes(ctx context.Context, requestID uuid.UUID) ([]callsrepo.TerminalOutcome, error)
}

// Service produces and persists ranked recommendations for a request.
type Service struct {
	requests RequestStore
	calls    OutcomeStore
	recs     recrepo.Repository
	engine   *Engine
	narrator Narrator
	bus      events.Bus
	log      *logger.Logger
}

// NewService creates the recommendation service.
func NewService(
	requests RequestStore,
	calls OutcomeStore,
	recs recrepo.Repository,
	engine *Engine,
	narrator Narrator,
	bus events.Bus,
	log *logger.Logger,
) *Service {
	return &Service{
		requests: requests,
		calls:    calls,
		recs:     recs,
		engine:   engine,
		narrator: narrator,
		bus:      bus,
		log:      log,
	}
}

// Analyze scores the request's terminal outcomes and advances it to
// RECOMMENDED. Any failure (no qualified providers, narrative generation
// down) leaves the request in ANALYZING so the operation can be retried; it
// never advances on empty or partial data.
func (s *Service) Analyze(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != requestsdomain.StatusAnalyzing {
		return apperr.Conflict("request is not awaiting analysis")
	}

	outcomes, err := s.calls.ListTerminalOutcomes(ctx, requestID)
	if err != nil {
		return err
	}

	ranked := s.engine.Rank(outcomes)
	if ranked.NoQualified {
		s.log.Warn("no qualified providers", "service_request_id", requestID, "reason", ranked.Reason)
		return apperr.Validation(ranked.Reason)
	}

	summary, err := s.narrator.Summarize(ctx, req, ranked)
	if err != nil {
		s.log.Error("narrative generation failed on both paths",
			"service_request_id", requestID, "error", err)
		return apperr.Unavailable("recommendation narrative unavailable, retry analysis")
	}
	ranked.Summary = summary

	entries := make([]recrepo.Recommendation, 0, len(ranked.Entries))
	for _, e := range ranked.Entries {
		entries = append(entries, recrepo.Recommendation{
			RequestID:            requestID,
			CandidateID:          e.CandidateID,
			Rank:                 e.Rank,
			Score:                e.Score,
			Reasoning:            e.Reasoning,
			MatchedCriteria:      e.MatchedCriteria,
			Availability:         string(e.Availability),
			EarliestAvailability: e.EarliestAvailability,
			EstimatedRateCents:   e.EstimatedRateCents,
			Summary:              summary,
		})
	}
	if err := s.recs.ReplaceRanked(ctx, requestID, entries); err != nil {
		return err
	}

	err = s.requests.TransitionStatus(ctx, requestID, requestsdomain.StatusAnalyzing, requestsdomain.StatusRecommended, "")
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict {
			// A concurrent retry already advanced the request; the ranked
			// list it wrote is equivalent, so this run's work stands.
			return nil
		}
		return err
	}

	s.bus.Publish(ctx, events.RequestStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		RequestID: requestID,
		OldStatus: string(requestsdomain.StatusAnalyzing),
		NewStatus: string(requestsdomain.StatusRecommended),
	})
	s.bus.Publish(ctx, events.RecommendationReady{
		BaseEvent: events.NewBaseEvent(),
		RequestID: requestID,
		TopCount:  len(ranked.Entries),
		Summary:   summary,
	})

	s.log.Info("recommendation ready", "service_request_id", requestID, "top_count", len(ranked.Entries))
	return nil
}

// List returns the persisted ranked list for a request.
func (s *Service) List(ctx context.Context, requestID uuid.UUID) ([]recrepo.Recommendation, error) {
	return s.recs.ListByRequest(ctx, requestID)
}
