package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentmesh/agentmesh/pkg/httpclient"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// WebhookSink POSTs the alert payload as JSON to the configured URL.
type WebhookSink struct {
	client *httpclient.Client
}

// NewWebhookSink builds a webhook sink over the shared retrying client.
func NewWebhookSink(client *httpclient.Client) *WebhookSink {
	if client == nil {
		client = httpclient.New()
	}
	return &WebhookSink{client: client}
}

func (s *WebhookSink) Kind() string { return "webhook" }

type webhookPayload struct {
	Alert types.Alert     `json:"alert"`
	Rule  types.AlertRule `json:"rule"`
}

func (s *WebhookSink) Deliver(ctx context.Context, alert types.Alert, rule types.AlertRule, cfg types.SinkConfig) error {
	url := cfg.Settings["url"]
	if url == "" {
		return fmt.Errorf("webhook sink requires a url setting")
	}

	body, err := json.Marshal(webhookPayload{Alert: alert, Rule: rule})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := cfg.Settings["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
