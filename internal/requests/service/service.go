// Package service implements the service request lifecycle operations that
// are not owned by the call orchestrator: intake and read access.
package service

import (
	"context"

	"github.com/google/uuid"

	"vetline_backend/internal/events"
	"vetline_backend/internal/requests/domain"
	"vetline_backend/internal/requests/repository"
	"vetline_backend/platform/apperr"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/phone"
)

// CreateInput is the intake payload after transport validation.
type CreateInput struct {
	Description  string
	Criteria     []string
	Urgency      string
	Address      string
	ContactPhone string
	ContactEmail string
}

// Service owns intake and read access for service requests.
type Service struct {
	repo repository.Repository
	bus  events.Bus
	log  *logger.Logger
}

// New creates the requests service.
func New(repo repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

// Create persists a new request in PENDING.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (repository.ServiceRequest, error) {
	contactPhone := phone.NormalizeE164(input.ContactPhone)
	if !phone.IsDialable(contactPhone) {
		return repository.ServiceRequest{}, apperr.Validation("contact phone is not a dialable number")
	}

	created, err := s.repo.Create(ctx, repository.ServiceRequest{
		UserID:       userID,
		Description:  input.Description,
		Criteria:     input.Criteria,
		Urgency:      input.Urgency,
		Address:      input.Address,
		ContactPhone: contactPhone,
		ContactEmail: input.ContactEmail,
		Status:       domain.StatusPending,
	})
	if err != nil {
		return repository.ServiceRequest{}, err
	}

	s.log.Info("service request created", "service_request_id", created.ID, "user_id", userID)
	return created, nil
}

// GetForUser returns a request, enforcing ownership.
func (s *Service) GetForUser(ctx context.Context, id, userID uuid.UUID) (repository.ServiceRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return repository.ServiceRequest{}, err
	}
	if req.UserID != userID {
		// Hide other users' requests entirely.
		return repository.ServiceRequest{}, apperr.NotFound("service request not found")
	}
	return req, nil
}

// ListForUser returns the user's recent requests.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.ServiceRequest, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// Fail moves a request to FAILED with a human-readable reason. This is the
// explicit escape hatch for requests stuck without qualified providers.
func (s *Service) Fail(ctx context.Context, id, userID uuid.UUID, reason string) error {
	req, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return apperr.Conflict("request already terminal")
	}
	if reason == "" {
		reason = "canceled by user"
	}

	if err := s.repo.TransitionStatus(ctx, id, req.Status, domain.StatusFailed, reason); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.RequestStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		RequestID: id,
		OldStatus: string(req.Status),
		NewStatus: string(domain.StatusFailed),
		Reason:    reason,
	})
	s.bus.Publish(ctx, events.RequestFailed{
		BaseEvent: events.NewBaseEvent(),
		RequestID: id,
		Reason:    reason,
	})
	return nil
}
