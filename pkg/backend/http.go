package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxErrorBodyBytes    = 1024
	maxResponseBodyBytes = 16 << 20
)

// HTTPConfig configures the HTTP inference backend.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// DefaultHTTPConfig returns the default HTTP backend configuration.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Timeout: 60 * time.Second}
}

// HTTPBackend posts execution requests to an inference service:
//
//	POST <url> {"artifactRef": "...", "inputs": {...}}
//
// A 2xx response carries {"output": {...}}; the service reports its own
// failures as {"error": "..."}.
type HTTPBackend struct {
	url    string
	token  string
	client *http.Client
}

type executeRequest struct {
	ArtifactRef string         `json:"artifactRef"`
	Inputs      map[string]any `json:"inputs"`
}

type executeResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

// NewHTTPBackend creates a backend client for cfg.URL.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		url:    strings.TrimRight(cfg.URL, "/"),
		token:  cfg.Token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Execute implements Backend.
func (b *HTTPBackend) Execute(ctx context.Context, artifactRef string, inputs map[string]any) (map[string]any, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(executeRequest{ArtifactRef: artifactRef, Inputs: inputs}); err != nil {
		return nil, fmt.Errorf("failed to encode execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(raw))
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("backend error: %s", out.Error)
	}
	return out.Output, nil
}

func truncate(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
