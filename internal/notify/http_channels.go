package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/irisetthq/irisett/pkg/types"
)

const defaultHTTPTimeout = 10 * time.Second

// WebhookChannel POSTs the transition as JSON to the contact's URL.
type WebhookChannel struct {
	headers map[string]string
	client  *http.Client
}

func NewWebhookChannel(timeout time.Duration, headers map[string]string) *WebhookChannel {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &WebhookChannel{
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

type webhookPayload struct {
	MonitorID   string `json:"monitor_id"`
	Description string `json:"description,omitempty"`
	Previous    string `json:"previous,omitempty"`
	Current     string `json:"current,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Message     string `json:"message,omitempty"`
	Test        bool   `json:"test,omitempty"`
}

func (w *WebhookChannel) Send(ctx context.Context, address string, msg Message) error {
	payload := webhookPayload{
		MonitorID:   msg.MonitorID,
		Description: msg.Description,
		Previous:    string(msg.Previous),
		Current:     string(msg.Current),
		Message:     msg.Detail,
		Test:        msg.Test,
	}
	if !msg.Timestamp.IsZero() {
		payload.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return postJSON(ctx, w.client, address, payload, w.headers, "webhook")
}

// SlackChannel posts to a Slack incoming-webhook URL.
type SlackChannel struct {
	client *http.Client
}

func NewSlackChannel(timeout time.Duration) *SlackChannel {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &SlackChannel{client: &http.Client{Timeout: timeout}}
}

func (s *SlackChannel) Type() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, address string, msg Message) error {
	icon := ":white_check_mark:"
	if msg.Current == types.StatusDown {
		icon = ":red_circle:"
	}
	if msg.Test {
		icon = ":information_source:"
	}
	text := fmt.Sprintf("%s *%s*\n%s", icon, msg.Subject(), msg.Text())
	return postJSON(ctx, s.client, address, map[string]string{"text": text}, nil, "slack")
}

// postJSON sends body and maps client errors (other than 429) to permanent
// failures so the dispatcher does not retry them.
func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, label string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%s encode: %w", label, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%s request: %w", label, err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s send: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("%s returned %d: %s", label, resp.StatusCode, bytes.TrimSpace(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
