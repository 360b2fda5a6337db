// Package handler provides HTTP handlers for the recommend module.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	recrepo "vetline_backend/internal/recommend/repository"
	"vetline_backend/platform/httpkit"
	"vetline_backend/platform/logger"
)

// RecommendationReader lists persisted ranked lists.
type RecommendationReader interface {
	List(ctx context.Context, requestID uuid.UUID) ([]recrepo.Recommendation, error)
}

// AnalyzeEnqueuer queues a (re)analysis run for a request.
type AnalyzeEnqueuer interface {
	EnqueueAnalyze(ctx context.Context, requestID uuid.UUID) error
}

// Handler serves the recommend module's HTTP endpoints.
type Handler struct {
	reader RecommendationReader
	tasks  AnalyzeEnqueuer
	log    *logger.Logger
}

// New creates a recommend handler.
func New(reader RecommendationReader, tasks AnalyzeEnqueuer, log *logger.Logger) *Handler {
	return &Handler{reader: reader, tasks: tasks, log: log}
}

type entryResponse struct {
	CandidateID          string   `json:"candidateId"`
	Rank                 int      `json:"rank"`
	Score                int      `json:"score"`
	Reasoning            string   `json:"reasoning"`
	MatchedCriteria      []string `json:"matchedCriteria,omitempty"`
	Availability         string   `json:"availability"`
	EarliestAvailability string   `json:"earliestAvailability,omitempty"`
	EstimatedRateCents   int64    `json:"estimatedRateCents,omitempty"`
}

// List handles GET /requests/:id/recommendations.
func (h *Handler) List(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	recs, err := h.reader.List(c.Request.Context(), requestID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	entries := make([]entryResponse, 0, len(recs))
	summary := ""
	for _, r := range recs {
		summary = r.Summary
		entries = append(entries, entryResponse{
			CandidateID:          r.CandidateID.String(),
			Rank:                 r.Rank,
			Score:                r.Score,
			Reasoning:            r.Reasoning,
			MatchedCriteria:      r.MatchedCriteria,
			Availability:         r.Availability,
			EarliestAvailability: r.EarliestAvailability,
			EstimatedRateCents:   r.EstimatedRateCents,
		})
	}
	httpkit.OK(c, gin.H{"summary": summary, "recommendations": entries})
}

// Analyze handles POST /requests/:id/analyze, the explicit retry for a
// request stuck in ANALYZING. The run itself happens on the worker.
func (h *Handler) Analyze(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request id", nil)
		return
	}

	if err := h.tasks.EnqueueAnalyze(c.Request.Context(), requestID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Accepted(c, gin.H{"status": "accepted"})
}
