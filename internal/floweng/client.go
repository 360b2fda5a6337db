// Package floweng provides the HTTP client for the external workflow engine
// used by the orchestrated execution path. The engine owns retries, branching
// and the voice platform interaction for the flows it runs; this client only
// starts executions and observes them.
package floweng

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
)

// ExecutionState is the lifecycle state of one workflow execution.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "running"
	ExecutionSucceeded ExecutionState = "succeeded"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCanceled  ExecutionState = "canceled"
)

// Finished reports whether the execution has reached a final state.
func (s ExecutionState) Finished() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed || s == ExecutionCanceled
}

// Execution is a single run of a named workflow.
type Execution struct {
	ID     string          `json:"id"`
	Flow   string          `json:"workflow"`
	State  ExecutionState  `json:"state"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client talks to the workflow engine's REST API.
type Client struct {
	baseURL       string
	apiKey        string
	healthTimeout time.Duration
	http          *http.Client
	log           *logger.Logger
}

// NewClient creates a workflow engine client from configuration.
func NewClient(cfg config.FlowEngineConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.GetFlowEngineURL(), "/"),
		apiKey:        cfg.GetFlowEngineAPIKey(),
		healthTimeout: cfg.GetFlowEngineHealthTimeout(),
		http:          &http.Client{Timeout: 30 * time.Second},
		log:           log,
	}
}

// Healthy probes the engine's health endpoint with a bounded deadline. A slow
// engine counts as unhealthy: routing decisions cannot wait on it.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// StartExecution starts the named workflow with the given input document and
// returns the execution id used for subsequent polling.
func (c *Client) StartExecution(ctx context.Context, flow string, input interface{}) (string, error) {
	payload := struct {
		Input interface{} `json:"input"`
	}{Input: input}

	var exec Execution
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+flow+"/executions", payload, &exec); err != nil {
		return "", fmt.Errorf("start workflow %s: %w", flow, err)
	}
	if exec.ID == "" {
		return "", fmt.Errorf("start workflow %s: engine returned no execution id", flow)
	}

	c.log.Info("workflow execution started", "workflow", flow, "execution_id", exec.ID)
	return exec.ID, nil
}

// GetExecution fetches the current state and output of an execution.
func (c *Client) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	var exec Execution
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID, nil, &exec); err != nil {
		return Execution{}, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	return exec, nil
}

// CancelExecution asks the engine to stop an execution. Used when the batch
// deadline expires with the workflow still running.
func (c *Client) CancelExecution(ctx context.Context, executionID string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/executions/"+executionID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal workflow payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workflow engine request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("workflow engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode workflow response: %w", err)
		}
	}
	return nil
}
