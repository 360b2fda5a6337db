// Package transport defines the wire-level request and response shapes for
// the calls module.
package transport

import (
	"time"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/internal/calls/repository"
)

// CandidatePayload is one researched provider submitted for a vetting batch.
type CandidatePayload struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Phone       string  `json:"phone" validate:"required,max=32"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
	ReviewCount int     `json:"reviewCount" validate:"gte=0"`
	Source      string  `json:"source" validate:"max=50"`
}

// StartBatchRequest starts a vetting call batch for a service request.
type StartBatchRequest struct {
	Candidates []CandidatePayload `json:"candidates" validate:"required,min=1,max=25,dive"`
}

// BookRequest selects the provider to place the booking call with.
type BookRequest struct {
	CandidateID string `json:"candidateId" validate:"required,uuid"`
}

// CallWebhookPayload is the completion notification posted by the voice
// platform (and, on the orchestrated path, by the workflow engine).
type CallWebhookPayload struct {
	CallID          string                    `json:"callId"`
	Status          string                    `json:"status" validate:"required"`
	Transcript      string                    `json:"transcript"`
	Analysis        *domain.StructuredOutcome `json:"analysis"`
	CostCents       int64                     `json:"costCents"`
	DurationSeconds int                       `json:"durationSeconds"`
	EndedAt         *time.Time                `json:"endedAt"`
	Metadata        WebhookMetadata           `json:"metadata"`
}

// WebhookMetadata is the correlation token echoed back by the platform.
type WebhookMetadata struct {
	RequestID   string `json:"requestId"`
	CandidateID string `json:"candidateId"`
	AttemptID   string `json:"attemptId"`
}

// AcceptedResponse acknowledges detached work.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// AttemptResponse is the read model for one call attempt.
type AttemptResponse struct {
	ID              string                    `json:"id"`
	CandidateID     string                    `json:"candidateId"`
	CandidateName   string                    `json:"candidateName,omitempty"`
	Phase           string                    `json:"phase"`
	Backend         string                    `json:"backend,omitempty"`
	Status          string                    `json:"status"`
	Transcript      string                    `json:"transcript,omitempty"`
	Outcome         *domain.StructuredOutcome `json:"outcome,omitempty"`
	CostCents       int64                     `json:"costCents"`
	DurationSeconds int                       `json:"durationSeconds"`
	StartedAt       *time.Time                `json:"startedAt,omitempty"`
	EndedAt         *time.Time                `json:"endedAt,omitempty"`
}

// ToAttemptResponse maps a stored attempt to its read model.
func ToAttemptResponse(a repository.Attempt, candidateName string) AttemptResponse {
	resp := AttemptResponse{
		ID:              a.ID.String(),
		CandidateID:     a.CandidateID.String(),
		CandidateName:   candidateName,
		Phase:           string(a.Phase),
		Status:          string(a.Status),
		Outcome:         a.Outcome,
		CostCents:       a.CostCents,
		DurationSeconds: a.DurationSeconds,
		StartedAt:       a.StartedAt,
		EndedAt:         a.EndedAt,
	}
	if a.Backend != nil {
		resp.Backend = string(*a.Backend)
	}
	if a.Transcript != nil {
		resp.Transcript = *a.Transcript
	}
	return resp
}
