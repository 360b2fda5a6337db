// Package domain provides core business rules for outbound call attempts.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle status of one outbound call attempt.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no_answer"
	CallVoicemail  CallStatus = "voicemail"
	CallBusy       CallStatus = "busy"
	CallTimeout    CallStatus = "timeout"
)

// terminalStatuses are call statuses from which no further transition occurs.
var terminalStatuses = map[CallStatus]bool{
	CallCompleted: true,
	CallFailed:    true,
	CallNoAnswer:  true,
	CallVoicemail: true,
	CallBusy:      true,
	CallTimeout:   true,
}

// IsTerminal reports whether the status is final. A terminal status is
// monotonic: it must never be overwritten by a later update.
func (s CallStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallQueued, CallRinging, CallInProgress:
		return true
	}
	return terminalStatuses[s]
}

// Phase distinguishes the vetting batch from the single follow-up booking call.
type Phase string

const (
	PhaseVetting Phase = "vetting"
	PhaseBooking Phase = "booking"
)

// BackendKind identifies which execution backend carried a call.
type BackendKind string

const (
	BackendDirect       BackendKind = "direct"
	BackendOrchestrated BackendKind = "orchestrated"
)

// Availability is the structured availability signal extracted from a call.
type Availability string

const (
	AvailableNow        Availability = "available_now"
	AvailableLater      Availability = "available_later"
	Unavailable         Availability = "unavailable"
	AvailabilityUnknown Availability = "unknown"
)

// StructuredOutcome is the machine-readable result of a completed conversation.
// Its shape round-trips unchanged through the recommendation engine.
type StructuredOutcome struct {
	Availability         Availability    `json:"availability"`
	EarliestAvailability string          `json:"earliestAvailability,omitempty"`
	EstimatedRateCents   int64           `json:"estimatedRateCents,omitempty"`
	Disqualified         bool            `json:"disqualified"`
	DisqualifiedReason   string          `json:"disqualifiedReason,omitempty"`
	CriteriaMatch        map[string]bool `json:"criteriaMatch,omitempty"`
	CallQuality          float64         `json:"callQuality,omitempty"`     // 0-1 signal from the voice collaborator
	Professionalism      float64         `json:"professionalism,omitempty"` // 0-1 signal from the voice collaborator
	Category             string          `json:"category,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	ScheduledFor         string          `json:"scheduledFor,omitempty"` // booking phase only
}

// CriteriaMatchRatio returns the fraction of criteria the provider satisfied.
func (o StructuredOutcome) CriteriaMatchRatio() float64 {
	if len(o.CriteriaMatch) == 0 {
		return 0
	}
	matched := 0
	for _, ok := range o.CriteriaMatch {
		if ok {
			matched++
		}
	}
	return float64(matched) / float64(len(o.CriteriaMatch))
}

// Outcome carries everything a terminal call reports back.
type Outcome struct {
	Status          CallStatus
	Transcript      string
	Structured      *StructuredOutcome
	CostCents       int64
	DurationSeconds int
	EndedAt         time.Time
}

// CallRequest is the unit of work handed to an execution backend.
type CallRequest struct {
	AttemptID   uuid.UUID
	RequestID   uuid.UUID
	CandidateID uuid.UUID
	Phase       Phase
	Phone       string
	Provider    string
	Need        string
	Criteria    []string
	Urgency     string
	Address     string
	// ScheduledFor is set for booking calls: the slot to confirm.
	ScheduledFor string
}

// CorrelationToken is the metadata attached at call placement so an inbound
// completion notification can be matched back to the originating attempt.
type CorrelationToken struct {
	RequestID   uuid.UUID `json:"requestId"`
	CandidateID uuid.UUID `json:"candidateId"`
	AttemptID   uuid.UUID `json:"attemptId"`
}
