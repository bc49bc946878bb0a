package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSink POSTs alerts to an external endpoint with bounded retries.
// Failed delivery is logged and dropped.
type WebhookSink struct {
	url     string
	retries int
	client  *http.Client
	logger  *slog.Logger
}

// WebhookConfig configures a webhook sink.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig, logger *slog.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:     cfg.URL,
		retries: cfg.Retries,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *WebhookSink) Notify(ctx context.Context, alert Alert) {
	var lastErr error

	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err := s.deliver(ctx, alert)
		if err == nil {
			return
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if s.logger != nil {
		s.logger.Error("alert delivery failed",
			slog.String("kind", string(alert.Kind)),
			slog.Int("attempts", attempts),
			slog.String("error", lastErr.Error()),
		)
	}
}

func (s *WebhookSink) deliver(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
