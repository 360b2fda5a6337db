// Package voice provides the HTTP client for the managed voice-calling
// platform. The platform runs the conversation itself; this client only
// places calls and polls their status.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
)

// Client talks to the voice platform's call API.
type Client struct {
	baseURL    string
	apiKey     string
	agentID    string
	webhookURL string
	http       *http.Client
	log        *logger.Logger
}

// NewClient creates a voice platform client from configuration.
func NewClient(cfg config.VoiceConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.GetVoiceAPIURL(), "/"),
		apiKey:     cfg.GetVoiceAPIKey(),
		agentID:    cfg.GetVoiceAgentID(),
		webhookURL: cfg.GetVoiceWebhookURL(),
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

type createCallRequest struct {
	AgentID     string                  `json:"agentId"`
	PhoneNumber string                  `json:"phoneNumber"`
	WebhookURL  string                  `json:"webhookUrl,omitempty"`
	Metadata    domain.CorrelationToken `json:"metadata"`
	Context     callContext             `json:"context"`
}

type callContext struct {
	Phase        string   `json:"phase"`
	ProviderName string   `json:"providerName"`
	Need         string   `json:"need"`
	Criteria     []string `json:"criteria,omitempty"`
	Urgency      string   `json:"urgency,omitempty"`
	Address      string   `json:"address,omitempty"`
	ScheduledFor string   `json:"scheduledFor,omitempty"`
}

type callResponse struct {
	ID              string                    `json:"id"`
	Status          string                    `json:"status"`
	Transcript      string                    `json:"transcript,omitempty"`
	Analysis        *domain.StructuredOutcome `json:"analysis,omitempty"`
	CostCents       int64                     `json:"costCents,omitempty"`
	DurationSeconds int                       `json:"durationSeconds,omitempty"`
	EndedAt         *time.Time                `json:"endedAt,omitempty"`
}

// CreateCall places an outbound call with the correlation token attached as
// call metadata, so the completion webhook can be matched back to the attempt.
func (c *Client) CreateCall(ctx context.Context, call domain.CallRequest) (string, error) {
	payload := createCallRequest{
		AgentID:     c.agentID,
		PhoneNumber: call.Phone,
		WebhookURL:  c.webhookURL,
		Metadata: domain.CorrelationToken{
			RequestID:   call.RequestID,
			CandidateID: call.CandidateID,
			AttemptID:   call.AttemptID,
		},
		Context: callContext{
			Phase:        string(call.Phase),
			ProviderName: call.Provider,
			Need:         call.Need,
			Criteria:     call.Criteria,
			Urgency:      call.Urgency,
			Address:      call.Address,
			ScheduledFor: call.ScheduledFor,
		},
	}

	var resp callResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calls", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("voice platform returned no call id")
	}

	c.log.Info("voice call placed", "call_id", resp.ID, "attempt_id", call.AttemptID)
	return resp.ID, nil
}

// GetCall polls the current status of a call by the platform's identifier.
// Once terminal, the response carries the same outcome fields as the webhook.
func (c *Client) GetCall(ctx context.Context, callID string) (domain.Outcome, error) {
	var resp callResponse
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+callID, nil, &resp); err != nil {
		return domain.Outcome{}, err
	}

	outcome := domain.Outcome{
		Status:          MapStatus(resp.Status),
		Transcript:      resp.Transcript,
		Structured:      resp.Analysis,
		CostCents:       resp.CostCents,
		DurationSeconds: resp.DurationSeconds,
	}
	if resp.EndedAt != nil {
		outcome.EndedAt = *resp.EndedAt
	}
	return outcome, nil
}

// MapStatus normalizes the platform's status vocabulary onto ours.
func MapStatus(raw string) domain.CallStatus {
	s := domain.CallStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if s.Valid() {
		return s
	}
	switch s {
	case "ended":
		return domain.CallCompleted
	case "error":
		return domain.CallFailed
	}
	// Unknown progress vocabulary is treated as still in flight; the poll
	// loop keeps going until a recognizable terminal status arrives.
	return domain.CallInProgress
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal voice payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("voice request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("voice platform returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode voice response: %w", err)
		}
	}
	return nil
}
