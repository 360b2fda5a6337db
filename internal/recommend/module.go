package recommend

import (
	internalhttp "vetline_backend/internal/http"
	"vetline_backend/internal/recommend/handler"
	"vetline_backend/platform/logger"
)

// Module bundles the recommend bounded context for route registration.
type Module struct {
	handler *handler.Handler
}

// NewModule assembles the recommend module.
func NewModule(svc *Service, tasks handler.AnalyzeEnqueuer, log *logger.Logger) *Module {
	return &Module{handler: handler.New(svc, tasks, log)}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "recommend" }

// RegisterRoutes mounts the module's routes.
func (m *Module) RegisterRoutes(ctx *internalhttp.RouterContext) {
	ctx.Protected.GET("/requests/:id/recommendations", m.handler.List)
	ctx.Protected.POST("/requests/:id/analyze", m.handler.Analyze)
}
