package floweng

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vetline_backend/platform/logger"
)

type stubConfig struct {
	url           string
	healthTimeout time.Duration
}

func (s stubConfig) IsFlowEngineEnabled() bool                 { return true }
func (s stubConfig) GetFlowEngineURL() string                  { return s.url }
func (s stubConfig) GetFlowEngineAPIKey() string               { return "test-key" }
func (s stubConfig) GetFlowEngineHealthTimeout() time.Duration { return s.healthTimeout }
func (s stubConfig) GetFlowEnginePollInterval() time.Duration  { return time.Millisecond }
func (s stubConfig) GetCallFlowName() string                   { return "vet-provider-call" }
func (s stubConfig) GetScoringFlowName() string                { return "score-providers" }

func newTestClient(url string, healthTimeout time.Duration) *Client {
	return NewClient(stubConfig{url: url, healthTimeout: healthTimeout}, logger.New("development"))
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	if !c.Healthy(context.Background()) {
		t.Fatal("expected healthy engine")
	}
}

func TestHealthyFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	if c.Healthy(context.Background()) {
		t.Fatal("expected unhealthy engine on 503")
	}
}

func TestHealthyFailsOnSlowProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Millisecond)
	if c.Healthy(context.Background()) {
		t.Fatal("expected unhealthy engine when probe exceeds its deadline")
	}
}

func TestStartExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/workflows/vet-provider-call/executions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}

		var payload struct {
			Input map[string]string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Input["phone"] != "+15551234567" {
			t.Errorf("input not forwarded: %+v", payload.Input)
		}

		_ = json.NewEncoder(w).Encode(Execution{ID: "exec-1", State: ExecutionRunning})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	id, err := c.StartExecution(context.Background(), "vet-provider-call", map[string]string{"phone": "+15551234567"})
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if id != "exec-1" {
		t.Fatalf("expected exec-1, got %s", id)
	}
}

func TestStartExecutionRejectsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Execution{State: ExecutionRunning})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	if _, err := c.StartExecution(context.Background(), "vet-provider-call", nil); err == nil {
		t.Fatal("expected error when engine returns no execution id")
	}
}

func TestGetExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/executions/exec-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Execution{
			ID:     "exec-1",
			State:  ExecutionSucceeded,
			Output: json.RawMessage(`{"status":"completed"}`),
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	exec, err := c.GetExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if !exec.State.Finished() {
		t.Fatalf("expected finished state, got %s", exec.State)
	}
	if string(exec.Output) != `{"status":"completed"}` {
		t.Fatalf("unexpected output: %s", exec.Output)
	}
}

func TestExecutionStateFinished(t *testing.T) {
	if ExecutionRunning.Finished() {
		t.Fatal("running must not be finished")
	}
	for _, s := range []ExecutionState{ExecutionSucceeded, ExecutionFailed, ExecutionCanceled} {
		if !s.Finished() {
			t.Fatalf("%s must be finished", s)
		}
	}
}
