// Package requests wires the service request module: intake, status polling
// and cancellation.
package requests

import (
	internalhttp "vetline_backend/internal/http"
	"vetline_backend/internal/requests/handler"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/validator"
)

// Module bundles the requests bounded context for route registration.
type Module struct {
	handler *handler.Handler
}

// NewModule assembles the requests module.
func NewModule(svc handler.RequestService, validate *validator.Validator, log *logger.Logger) *Module {
	return &Module{handler: handler.New(svc, validate, log)}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "requests" }

// RegisterRoutes mounts the module's routes.
func (m *Module) RegisterRoutes(ctx *internalhttp.RouterContext) {
	ctx.Protected.POST("/requests", m.handler.Create)
	ctx.Protected.GET("/requests", m.handler.List)
	ctx.Protected.GET("/requests/:id", m.handler.Get)
	ctx.Protected.POST("/requests/:id/cancel", m.handler.Cancel)
}
