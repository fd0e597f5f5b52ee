package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SlogSink writes every event to the structured log. It is the default
// sink, always registered by the server.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Deliver(_ context.Context, evt Event) error {
	s.logger.Info("domain event", "type", evt.EventType(), "event", evt)
	return nil
}

// WebhookSink POSTs a JSON envelope to a configured notification endpoint.
// An empty URL disables delivery, and the URL may be swapped at runtime by
// the config watcher.
type WebhookSink struct {
	mu     sync.RWMutex
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// SetURL replaces the delivery target. An empty string disables the sink.
func (s *WebhookSink) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *WebhookSink) Deliver(ctx context.Context, evt Event) error {
	s.mu.RLock()
	url := s.url
	s.mu.RUnlock()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"type":    evt.EventType(),
		"payload": evt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
