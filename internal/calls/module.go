// Package calls wires the call orchestration module: batch dispatching over
// two execution backends, completion webhooks, and booking calls.
package calls

import (
	"vetline_backend/internal/calls/handler"
	"vetline_backend/internal/calls/repository"
	internalhttp "vetline_backend/internal/http"
	"vetline_backend/platform/logger"
	"vetline_backend/platform/validator"
)

// Module bundles the calls bounded context for route registration.
type Module struct {
	handler *handler.Handler
}

// NewModule assembles the calls module from its already-built dependencies.
func NewModule(svc handler.CallService, repo repository.Repository, validate *validator.Validator, webhookKey string, log *logger.Logger) *Module {
	return &Module{
		handler: handler.New(svc, repo, validate, webhookKey, log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "calls" }

// RegisterRoutes mounts the module's routes.
func (m *Module) RegisterRoutes(ctx *internalhttp.RouterContext) {
	ctx.Protected.POST("/requests/:id/batch", m.handler.StartBatch)
	ctx.Protected.POST("/requests/:id/select", m.handler.Book)
	ctx.Protected.GET("/requests/:id/attempts", m.handler.ListAttempts)

	ctx.Webhook.POST("/voice/calls", m.handler.CallWebhook)
}
