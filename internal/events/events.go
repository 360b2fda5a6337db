// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"vetline_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Request Lifecycle Events
// =============================================================================

// RequestStatusChanged is published on every service request state transition.
type RequestStatusChanged struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Reason    string    `json:"reason,omitempty"`
}

func (e RequestStatusChanged) EventName() string { return "requests.status.changed" }

// RequestFailed is published when a request terminates in FAILED.
type RequestFailed struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	Reason    string    `json:"reason"`
}

func (e RequestFailed) EventName() string { return "requests.failed" }

// =============================================================================
// Call Orchestration Events
// =============================================================================

// BackendSelected records which execution backend a batch will use and why.
// Reasons: flag_off, healthy, unhealthy_fallback.
type BackendSelected struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	Backend   string    `json:"backend"`
	Reason    string    `json:"reason"`
}

func (e BackendSelected) EventName() string { return "calls.backend.selected" }

// CallTerminal is published when a call attempt reaches a terminal status.
type CallTerminal struct {
	BaseEvent
	RequestID   uuid.UUID `json:"requestId"`
	AttemptID   uuid.UUID `json:"attemptId"`
	CandidateID uuid.UUID `json:"candidateId"`
	Status      string    `json:"status"`
	Source      string    `json:"source"` // webhook, poll, dispatcher_timeout
}

func (e CallTerminal) EventName() string { return "calls.attempt.terminal" }

// BatchCompleted is published when every attempt in a batch is terminal.
type BatchCompleted struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	BatchID   uuid.UUID `json:"batchId"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	TimedOut  int       `json:"timedOut"`
}

func (e BatchCompleted) EventName() string { return "calls.batch.completed" }

// =============================================================================
// Recommendation Events
// =============================================================================

// RecommendationReady is published when a ranked list has been produced.
type RecommendationReady struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	TopCount  int       `json:"topCount"`
	Summary   string    `json:"summary"`
}

func (e RecommendationReady) EventName() string { return "recommend.ready" }

// BookingConfirmed is published when the booking call confirms a date/time.
type BookingConfirmed struct {
	BaseEvent
	RequestID   uuid.UUID `json:"requestId"`
	CandidateID uuid.UUID `json:"candidateId"`
	Scheduled   string    `json:"scheduled"`
}

func (e BookingConfirmed) EventName() string { return "calls.booking.confirmed" }
