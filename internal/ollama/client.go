// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var (
	log    = logging.Named("ollama")
	tracer = otel.Tracer("rigrun-agent/ollama")
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the local server URL (default: http://127.0.0.1:11434).
	// Uses an explicit IPv4 address to avoid IPv6 resolution issues on Windows.
	BaseURL string

	// RequestTimeout bounds non-streaming calls (default: 30s).
	RequestTimeout time.Duration

	// VersionTimeout bounds the version probe (default: 3s).
	VersionTimeout time.Duration

	// DefaultModel to use if a request names none.
	DefaultModel string

	// HistoryTurns is the number of non-system messages kept (default: 8).
	HistoryTurns int

	// ImageConcurrency > 1 describes images in parallel. Output order is
	// always input order.
	ImageConcurrency int

	// HTTPClient overrides the transport. It must not set a Timeout, since
	// streaming bodies can be read for minutes.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:          "http://127.0.0.1:11434",
		RequestTimeout:   30 * time.Second,
		VersionTimeout:   3 * time.Second,
		DefaultModel:     "llama3.2",
		HistoryTurns:     DefaultHistoryTurns,
		ImageConcurrency: 1,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the local model server. It is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a client. Zero fields of config are filled with defaults.
func NewClient(config *ClientConfig) *Client {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.VersionTimeout == 0 {
		cfg.VersionTimeout = def.VersionTimeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 1
	}

	hc := cfg.HTTPClient
	if hc == nil {
		// SECURITY: plain HTTP is expected; the server listens on loopback.
		hc = &http.Client{}
	}
	return &Client{config: &cfg, httpClient: hc}
}

// Config returns a copy of the client configuration.
func (c *Client) Config() ClientConfig {
	return *c.config
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

func (c *Client) model(m string) string {
	if m == "" {
		return c.config.DefaultModel
	}
	return m
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// send issues a request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, gateway.Wrap(gateway.CodeInvalidArgument, "failed to marshal request", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, rd)
	if err != nil {
		return nil, gateway.Wrap(gateway.CodeInvalidArgument, "failed to create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gateway.Normalize(ctx.Err(), gateway.CodeStreamError)
		}
		return nil, gateway.Wrap(gateway.CodeBridgeUnavailable, "local model server is not reachable", err).
			WithDetail("url", c.config.BaseURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, httpError(path, resp)
	}
	return resp, nil
}

// httpError converts a non-2xx response into ollama_http_error.
func httpError(path string, resp *http.Response) *gateway.Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	e := gateway.Newf(gateway.CodeOllamaHTTP, "%s returned HTTP %d", path, resp.StatusCode).
		WithDetail("status", resp.StatusCode).
		WithDetail("path", path)

	var apiErr apiError
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		e.Message = apiErr.Error
		e.WithDetail("error", apiErr.Error)
	} else if len(data) > 0 {
		e.WithDetail("body", string(data))
	}
	return e
}

// doJSON runs a non-streaming request under deadline and decodes the body
// into out. out may be nil.
func (c *Client) doJSON(ctx context.Context, deadline time.Duration, method, path string, body, out any) error {
	// Cancelled on return so a call that lost the deadline race is torn down.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	_, err := gateway.CallWithDeadline(ctx, deadline, gateway.CodeRequestTimeout, func(ctx context.Context) (struct{}, error) {
		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return struct{}{}, nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, gateway.Wrap(gateway.CodeStreamError, "failed to read response", err)
		}
		return struct{}{}, gateway.DecodeJSON(data, out)
	})
	return err
}

// =============================================================================
// PROBES AND MODEL MANAGEMENT
// =============================================================================

// Version returns the server version. It uses the short version deadline so
// it doubles as a liveness probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v VersionResponse
	if err := c.doJSON(ctx, c.config.VersionTimeout, http.MethodGet, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// IsRunning reports whether the version probe succeeds.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// ListModels retrieves all locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.doJSON(ctx, c.config.RequestTimeout, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// ModelNames returns the names from ListModels.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// DeleteModel removes a local model.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	if name == "" {
		return gateway.New(gateway.CodeInvalidArgument, "model name is required")
	}
	return c.doJSON(ctx, c.config.RequestTimeout, http.MethodDelete, "/api/delete", DeleteRequest{Model: name}, nil)
}

// =============================================================================
// NON-STREAMING COMPLETIONS
// =============================================================================

// Chat sends a non-streaming chat request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Model = c.model(req.Model)
	req.Stream = false

	var result ChatResponse
	if err := c.doJSON(ctx, c.config.RequestTimeout, http.MethodPost, "/api/chat", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Generate sends a non-streaming generate request.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Model = c.model(req.Model)
	req.Stream = false

	var result GenerateResponse
	if err := c.doJSON(ctx, c.config.RequestTimeout, http.MethodPost, "/api/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsHTTPStatus reports whether err is an ollama_http_error with the status.
func IsHTTPStatus(err error, status int) bool {
	var e *gateway.Error
	if !errors.As(err, &e) || e.Code != gateway.CodeOllamaHTTP {
		return false
	}
	s, _ := e.Details["status"].(int)
	return s == status
}
