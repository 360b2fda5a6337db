// Package handler provides HTTP handlers for the requests module.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vetline_backend/internal/requests/repository"
	svc "vetline_backend/internal/requests/service"
	"vetline_backend/internal/requests/transport"
	"vetline_backend/platform/httpkit"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/validator"
)

// RequestService is the slice of the requests service the handler needs.
type RequestService interface {
	Create(ctx context.Context, userID uuid.UUID, input svc.CreateInput) (repository.ServiceRequest, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (repository.ServiceRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.ServiceRequest, error)
	Fail(ctx context.Context, id, userID uuid.UUID, reason string) error
}

// Handler serves the requests module's HTTP endpoints.
type Handler struct {
	svc      RequestService
	validate *validator.Validator
	log      *logger.Logger
}

// New creates a requests handler.
func New(service RequestService, validate *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: service, validate: validate, log: log}
}

// Create handles POST /requests.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := httpkit.GetUserID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req transport.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	created, err := h.svc.Create(c.Request.Context(), userID, svc.CreateInput{
		Description:  req.Description,
		Criteria:     req.Criteria,
		Urgency:      req.Urgency,
		Address:      req.Address,
		ContactPhone: req.ContactPhone,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.ToRequestResponse(created))
}

// Get handles GET /requests/:id. Clients poll this endpoint to follow the
// request through its lifecycle.
func (h *Handler) Get(c *gin.Context) {
	userID, ok := httpkit.GetUserID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	req, err := h.svc.GetForUser(c.Request.Context(), id, userID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ToRequestResponse(req))
}

// List handles GET /requests.
func (h *Handler) List(c *gin.Context) {
	userID, ok := httpkit.GetUserID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reqs, err := h.svc.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	out := make([]transport.RequestResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, transport.ToRequestResponse(r))
	}
	httpkit.OK(c, gin.H{"requests": out})
}

// Cancel handles POST /requests/:id/cancel. It moves a non-terminal request
// to FAILED with the caller's reason.
func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := httpkit.GetUserID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is fine, the reason is optional.
	_ = c.ShouldBindJSON(&body)

	if err := h.svc.Fail(c.Request.Context(), id, userID, body.Reason); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "canceled"})
}
