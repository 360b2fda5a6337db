// Package sms sends text messages through the configured SMS gateway.
package sms

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
	"vetline_backend/platform/phone"
)

type Client struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
	log     *logger.Logger
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// NewClient creates an SMS gateway client. Returns nil when the gateway is
// not configured, callers treat a nil client as a no-op.
func NewClient(cfg config.SMSConfig, log *logger.Logger) *Client {
	if !cfg.IsSMSEnabled() || cfg.GetSMSAPIURL() == "" {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetSMSAPIURL(), "/"),
		apiKey:  cfg.GetSMSAPIKey(),
		from:    cfg.GetSMSFrom(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Send delivers one message to the given phone number.
func (c *Client) Send(ctx context.Context, phoneNumber string, message string) error {
	if c == nil {
		return nil
	}

	normalized := phone.NormalizeE164(phoneNumber)
	if !phone.IsDialable(normalized) {
		return fmt.Errorf("sms recipient %q is not a valid number", phoneNumber)
	}

	payload := sendRequest{
		From: c.from,
		To:   normalized,
		Body: message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("sms sent", "to", normalized)
	return nil
}
