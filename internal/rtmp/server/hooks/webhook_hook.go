package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookHook POSTs each event as JSON to a URL. Any non-2xx status is an error.
type WebhookHook struct {
	id      string
	url     string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
}

// NewWebhookHook creates a new webhook hook
func NewWebhookHook(id, url string, timeout time.Duration) *WebhookHook {
	return &WebhookHook{
		id:      id,
		url:     url,
		headers: make(map[string]string),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// AddHeader adds a single HTTP header
func (h *WebhookHook) AddHeader(key, value string) *WebhookHook {
	if h.headers == nil {
		h.headers = make(map[string]string)
	}
	h.headers[key] = value
	return h
}

// Execute sends the event data as JSON to the webhook URL
func (h *WebhookHook) Execute(ctx context.Context, event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook hook %s: failed to marshal JSON: %w", h.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("webhook hook %s: failed to create request: %w", h.id, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RTMP-Event", string(event.Type))
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook hook %s: request failed: %w", h.id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook hook %s: server returned status %d", h.id, resp.StatusCode)
	}

	return nil
}

func (h *WebhookHook) Type() string { return "webhook" }
func (h *WebhookHook) ID() string   { return h.id }
