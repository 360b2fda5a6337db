// Package notification sends SMS and email in response to domain events.
// The module subscribes to the event bus and inverts the dependency: the
// orchestration modules never need to know about gateways or templates.
package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vetline_backend/internal/email"
	"vetline_backend/internal/events"
	"vetline_backend/internal/requests/repository"
	"vetline_backend/platform/logger"
)

// SMSSender sends one text message. A nil implementation is a no-op.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber string, message string) error
}

// ContactReader resolves the requester's contact details.
type ContactReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (repository.ServiceRequest, error)
}

// Module fans lifecycle events out to SMS and email. Delivery failures are
// logged, never propagated back into the orchestration path.
type Module struct {
	requests ContactReader
	sms      SMSSender
	email    email.Sender
	log      *logger.Logger
}

// NewModule creates the notification module. Either channel may be nil.
func NewModule(requests ContactReader, sms SMSSender, mail email.Sender, log *logger.Logger) *Module {
	return &Module{requests: requests, sms: sms, email: mail, log: log}
}

// Register subscribes the module to the events it reacts to.
func (m *Module) Register(bus events.Bus) {
	bus.Subscribe(events.RecommendationReady{}.EventName(), events.HandlerFunc(m.onRecommendationReady))
	bus.Subscribe(events.BookingConfirmed{}.EventName(), events.HandlerFunc(m.onBookingConfirmed))
	bus.Subscribe(events.RequestFailed{}.EventName(), events.HandlerFunc(m.onRequestFailed))
}

func (m *Module) onRecommendationReady(ctx context.Context, event events.Event) error {
	e, ok := event.(events.RecommendationReady)
	if !ok {
		return nil
	}

	req, err := m.requests.GetByID(ctx, e.RequestID)
	if err != nil {
		m.log.Warn("notification skipped, request lookup failed", "service_request_id", e.RequestID, "error", err)
		return nil
	}

	message := fmt.Sprintf("Your provider shortlist is ready: %d match(es) found. Open the app to review and pick one.", e.TopCount)
	m.deliver(ctx, req, message, func(to string) error {
		return m.email.SendRecommendationReady(ctx, to, e.Summary, e.TopCount)
	})
	return nil
}

func (m *Module) onBookingConfirmed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.BookingConfirmed)
	if !ok {
		return nil
	}

	req, err := m.requests.GetByID(ctx, e.RequestID)
	if err != nil {
		m.log.Warn("notification skipped, request lookup failed", "service_request_id", e.RequestID, "error", err)
		return nil
	}

	message := "Your appointment is confirmed."
	if e.Scheduled != "" {
		message = fmt.Sprintf("Your appointment is confirmed for %s.", e.Scheduled)
	}
	m.deliver(ctx, req, message, func(to string) error {
		return m.email.SendBookingConfirmed(ctx, to, e.Scheduled)
	})
	return nil
}

func (m *Module) onRequestFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.RequestFailed)
	if !ok {
		return nil
	}

	req, err := m.requests.GetByID(ctx, e.RequestID)
	if err != nil {
		m.log.Warn("notification skipped, request lookup failed", "service_request_id", e.RequestID, "error", err)
		return nil
	}

	message := "We could not complete your service request."
	if e.Reason != "" {
		message = fmt.Sprintf("We could not complete your service request: %s.", e.Reason)
	}
	m.deliver(ctx, req, message, func(to string) error {
		return m.email.SendRequestFailed(ctx, to, e.Reason)
	})
	return nil
}

// deliver sends over every configured channel, logging failures.
func (m *Module) deliver(ctx context.Context, req repository.ServiceRequest, smsText string, sendMail func(to string) error) {
	if m.sms != nil && req.ContactPhone != "" {
		if err := m.sms.Send(ctx, req.ContactPhone, smsText); err != nil {
			m.log.Warn("sms delivery failed", "service_request_id", req.ID, "error", err)
		}
	}
	if m.email != nil && req.ContactEmail != "" {
		if err := sendMail(req.ContactEmail); err != nil {
			m.log.Warn("email delivery failed", "service_request_id", req.ID, "error", err)
		}
	}
}
