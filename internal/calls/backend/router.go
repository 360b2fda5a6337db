package backend

import (
	"context"

	"github.com/google/uuid"

	"vetline_backend/internal/events"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
)

// Selection reasons recorded with every routing decision.
const (
	ReasonFlagOff           = "flag_off"
	ReasonHealthy           = "healthy"
	ReasonUnhealthyFallback = "unhealthy_fallback"
)

// HealthProber answers whether the workflow engine can take work right now.
type HealthProber interface {
	Healthy(ctx context.Context) bool
}

// Router selects the execution backend for a batch. The decision is made once
// per batch, not per call, so every call in a batch uses the same backend.
type Router struct {
	direct       ExecutionBackend
	orchestrated ExecutionBackend
	prober       HealthProber
	flowEnabled  bool
	bus          events.Bus
	log          *logger.Logger
}

// NewRouter creates the backend router.
func NewRouter(cfg config.FlowEngineConfig, direct, orchestrated ExecutionBackend, prober HealthProber, bus events.Bus, log *logger.Logger) *Router {
	return &Router{
		direct:       direct,
		orchestrated: orchestrated,
		prober:       prober,
		flowEnabled:  cfg.IsFlowEngineEnabled(),
		bus:          bus,
		log:          log,
	}
}

// Choose picks the backend for one batch. The orchestrated backend is used
// only when it is enabled and its health probe passes within its deadline;
// everything else falls back to direct. The decision and its reason are
// logged and published so routing behavior stays observable.
func (r *Router) Choose(ctx context.Context, requestID uuid.UUID) ExecutionBackend {
	backend, reason := r.decide(ctx)

	r.log.BackendSelected(requestID.String(), string(backend.Kind()), reason)
	r.bus.Publish(ctx, events.BackendSelected{
		BaseEvent: events.NewBaseEvent(),
		RequestID: requestID,
		Backend:   string(backend.Kind()),
		Reason:    reason,
	})
	return backend
}

func (r *Router) decide(ctx context.Context) (ExecutionBackend, string) {
	if !r.flowEnabled {
		return r.direct, ReasonFlagOff
	}
	if r.prober.Healthy(ctx) {
		return r.orchestrated, ReasonHealthy
	}
	return r.direct, ReasonUnhealthyFallback
}
