// Package transport defines the wire-level request and response shapes for
// the requests module.
package transport

import (
	"time"

	"vetline_backend/internal/requests/repository"
)

// CreateRequest submits a new service need.
type CreateRequest struct {
	Description  string   `json:"description" validate:"required,min=10,max=2000"`
	Criteria     []string `json:"criteria" validate:"max=10,dive,min=2,max=120"`
	Urgency      string   `json:"urgency" validate:"omitempty,oneof=low medium high emergency"`
	Address      string   `json:"address" validate:"required,max=300"`
	ContactPhone string   `json:"contactPhone" validate:"required,max=32"`
	ContactEmail string   `json:"contactEmail" validate:"omitempty,email"`
}

// RequestResponse is the read model for one service request.
type RequestResponse struct {
	ID                  string    `json:"id"`
	Description         string    `json:"description"`
	Criteria            []string  `json:"criteria,omitempty"`
	Urgency             string    `json:"urgency,omitempty"`
	Address             string    `json:"address"`
	Status              string    `json:"status"`
	SelectedCandidateID string    `json:"selectedCandidateId,omitempty"`
	OutcomeSummary      string    `json:"outcomeSummary,omitempty"`
	FailureReason       string    `json:"failureReason,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// ToRequestResponse maps a stored request to its read model.
func ToRequestResponse(req repository.ServiceRequest) RequestResponse {
	resp := RequestResponse{
		ID:          req.ID.String(),
		Description: req.Description,
		Criteria:    req.Criteria,
		Urgency:     req.Urgency,
		Address:     req.Address,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
	if req.SelectedCandidateID != nil {
		resp.SelectedCandidateID = req.SelectedCandidateID.String()
	}
	if req.OutcomeSummary != nil {
		resp.OutcomeSummary = *req.OutcomeSummary
	}
	if req.FailureReason != nil {
		resp.FailureReason = *req.FailureReason
	}
	return resp
}
