package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/internal/events"
	"vetline_backend/platform/logger"
)

type fakeBackend struct {
	kind domain.BackendKind
}

func (f fakeBackend) Kind() domain.BackendKind { return f.kind }
func (f fakeBackend) Execute(ctx context.Context, call domain.CallRequest) (domain.Outcome, error) {
	return domain.Outcome{Status: domain.CallCompleted}, nil
}

type fakeProber struct {
	healthy bool
}

func (f fakeProber) Healthy(ctx context.Context) bool { return f.healthy }

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(eventName string, handler events.Handler) {}

func (b *recordingBus) published() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func newRouterForTest(enabled, healthy bool, bus events.Bus) *Router {
	return NewRouter(
		flowStubConfig{enabled: enabled, pollInterval: time.Millisecond, healthTimeout: time.Second},
		fakeBackend{kind: domain.BackendDirect},
		fakeBackend{kind: domain.BackendOrchestrated},
		fakeProber{healthy: healthy},
		bus,
		logger.New("development"),
	)
}

func TestChooseDirectWhenFlagOff(t *testing.T) {
	bus := &recordingBus{}
	r := newRouterForTest(false, true, bus)

	b := r.Choose(context.Background(), uuid.New())
	if b.Kind() != domain.BackendDirect {
		t.Fatalf("expected direct, got %s", b.Kind())
	}
	assertSelection(t, bus, domain.BackendDirect, ReasonFlagOff)
}

func TestChooseOrchestratedWhenHealthy(t *testing.T) {
	bus := &recordingBus{}
	r := newRouterForTest(true, true, bus)

	b := r.Choose(context.Background(), uuid.New())
	if b.Kind() != domain.BackendOrchestrated {
		t.Fatalf("expected orchestrated, got %s", b.Kind())
	}
	assertSelection(t, bus, domain.BackendOrchestrated, ReasonHealthy)
}

func TestChooseDirectWhenEngineUnhealthy(t *testing.T) {
	bus := &recordingBus{}
	r := newRouterForTest(true, false, bus)

	b := r.Choose(context.Background(), uuid.New())
	if b.Kind() != domain.BackendDirect {
		t.Fatalf("expected direct fallback, got %s", b.Kind())
	}
	assertSelection(t, bus, domain.BackendDirect, ReasonUnhealthyFallback)
}

func assertSelection(t *testing.T, bus *recordingBus, backend domain.BackendKind, reason string) {
	t.Helper()

	published := bus.published()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	sel, ok := published[0].(events.BackendSelected)
	if !ok {
		t.Fatalf("expected BackendSelected, got %T", published[0])
	}
	if sel.Backend != string(backend) || sel.Reason != reason {
		t.Fatalf("expected %s/%s, got %s/%s", backend, reason, sel.Backend, sel.Reason)
	}
}
