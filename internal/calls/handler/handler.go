// Package handler provides HTTP handlers for the calls module.
package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/internal/calls/repository"
	"vetline_backend/internal/calls/service"
	"vetline_backend/internal/calls/transport"
	"vetline_backend/internal/voice"
	"vetline_backend/platform/httpkit"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/validator"
)

// CallService is the slice of the calls service the handler needs.
type CallService interface {
	StartBatch(ctx context.Context, requestID uuid.UUID, inputs []service.CandidateInput) error
	StartBooking(ctx context.Context, requestID, candidateID uuid.UUID) error
	HandleCompletion(ctx context.Context, platformCallID string, token domain.CorrelationToken, outcome domain.Outcome) error
}

// Handler serves the calls module's HTTP endpoints.
type Handler struct {
	svc        CallService
	repo       repository.Repository
	validate   *validator.Validator
	webhookKey string
	log        *logger.Logger
}

// New creates a calls handler.
func New(svc CallService, repo repository.Repository, validate *validator.Validator, webhookKey string, log *logger.Logger) *Handler {
	return &Handler{
		svc:        svc,
		repo:       repo,
		validate:   validate,
		webhookKey: webhookKey,
		log:        log,
	}
}

// StartBatch handles POST /requests/:id/batch. The batch is durably queued
// before the 202 goes out; the calls themselves run detached.
func (h *Handler) StartBatch(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var req transport.StartBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	inputs := make([]service.CandidateInput, 0, len(req.Candidates))
	for _, cand := range req.Candidates {
		inputs = append(inputs, service.CandidateInput{
			Name:        cand.Name,
			Phone:       cand.Phone,
			Rating:      cand.Rating,
			ReviewCount: cand.ReviewCount,
			Source:      cand.Source,
		})
	}

	if err := h.svc.StartBatch(c.Request.Context(), requestID, inputs); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Accepted(c, transport.AcceptedResponse{Status: "accepted"})
}

// Book handles POST /requests/:id/book.
func (h *Handler) Book(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var req transport.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	candidateID, err := uuid.Parse(req.CandidateID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid candidate id", nil)
		return
	}

	if err := h.svc.StartBooking(c.Request.Context(), requestID, candidateID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Accepted(c, transport.AcceptedResponse{Status: "accepted"})
}

// ListAttempts handles GET /requests/:id/attempts.
func (h *Handler) ListAttempts(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	phase := domain.Phase(c.DefaultQuery("phase", string(domain.PhaseVetting)))
	attempts, err := h.repo.ListAttempts(c.Request.Context(), requestID, phase)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	candidates, err := h.repo.ListCandidates(c.Request.Context(), requestID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	names := make(map[uuid.UUID]string, len(candidates))
	for _, cand := range candidates {
		names[cand.ID] = cand.Name
	}

	out := make([]transport.AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, transport.ToAttemptResponse(a, names[a.CandidateID]))
	}
	httpkit.OK(c, gin.H{"attempts": out})
}

// CallWebhook handles POST /webhook/voice/calls, the completion notification
// from the voice platform. Malformed payloads get a 4xx so the platform can
// flag them; anything that fails after authentication is acknowledged with
// 200 and logged, because the platform would otherwise retry a notification
// we can never process.
func (h *Handler) CallWebhook(c *gin.Context) {
	key := c.GetHeader("X-Webhook-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.webhookKey)) != 1 {
		httpkit.Error(c, http.StatusUnauthorized, "invalid webhook key", nil)
		return
	}

	var payload transport.CallWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid webhook body", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	outcome := domain.Outcome{
		Status:          voice.MapStatus(payload.Status),
		Transcript:      payload.Transcript,
		Structured:      payload.Analysis,
		CostCents:       payload.CostCents,
		DurationSeconds: payload.DurationSeconds,
	}
	if payload.EndedAt != nil {
		outcome.EndedAt = *payload.EndedAt
	} else if outcome.Status.IsTerminal() {
		outcome.EndedAt = time.Now()
	}

	token := parseToken(payload.Metadata)
	if err := h.svc.HandleCompletion(c.Request.Context(), payload.CallID, token, outcome); err != nil {
		h.log.WithCallID(payload.CallID).Error("webhook completion dropped", "error", err)
	}
	httpkit.OK(c, gin.H{"received": true})
}

func parseToken(meta transport.WebhookMetadata) domain.CorrelationToken {
	var token domain.CorrelationToken
	if id, err := uuid.Parse(meta.RequestID); err == nil {
		token.RequestID = id
	}
	if id, err := uuid.Parse(meta.CandidateID); err == nil {
		token.CandidateID = id
	}
	if id, err := uuid.Parse(meta.AttemptID); err == nil {
		token.AttemptID = id
	}
	return token
}
