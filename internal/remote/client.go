// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/catalog"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/settings"
)

var log = logging.Named("remote")

// DefaultBridge is the bridge name used when none is configured.
const DefaultBridge = "miso"

// DefaultDeadline bounds each bridge call.
const DefaultDeadline = 10 * time.Second

// Client calls one named bridge.
type Client struct {
	reg      *gateway.Registry
	bridge   string
	deadline time.Duration

	settings *settings.Manager
	catalogs *catalog.Holder
}

// Option configures a Client.
type Option func(*Client)

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option { return func(c *Client) { c.deadline = d } }

// WithSettings enables provider key injection for Stream.
func WithSettings(m *settings.Manager) Option { return func(c *Client) { c.settings = m } }

// WithCatalogHolder makes Catalog publish every fetched catalog.
func WithCatalogHolder(h *catalog.Holder) Option { return func(c *Client) { c.catalogs = h } }

// NewClient returns a client for bridge (DefaultBridge if empty).
func NewClient(reg *gateway.Registry, bridge string, opts ...Option) *Client {
	if bridge == "" {
		bridge = DefaultBridge
	}
	c := &Client{reg: reg, bridge: bridge, deadline: DefaultDeadline}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bridge returns the bridge name.
func (c *Client) Bridge() string { return c.bridge }

// Available reports whether method is currently exposed.
func (c *Client) Available(method string) bool {
	return c.reg.IsCapabilityAvailable(c.bridge, method)
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	return c.reg.InvokeInto(ctx, c.bridge, method, params, c.deadline, out)
}

// =============================================================================
// SIMPLE CAPABILITIES
// =============================================================================

// Status probes the bridge.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.call(ctx, MethodStatus, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Restart asks the bridge to restart its backend.
func (c *Client) Restart(ctx context.Context) error {
	return c.call(ctx, MethodRestart, nil, nil)
}

// Catalog fetches and normalizes the model catalog.
func (c *Client) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	var raw map[string]any
	if err := c.call(ctx, MethodCatalog, nil, &raw); err != nil {
		return nil, err
	}
	cat := catalog.Normalize(raw)
	if c.catalogs != nil {
		c.catalogs.Store(cat)
	}
	return cat, nil
}

// ToolkitCatalog lists the bridge's tools. Both a bare array and
// {"tools": [...]} are accepted.
func (c *Client) ToolkitCatalog(ctx context.Context) ([]ToolkitEntry, error) {
	var raw json.RawMessage
	if err := c.call(ctx, MethodToolkitCatalog, nil, &raw); err != nil {
		return nil, err
	}
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return []ToolkitEntry{}, nil
	}

	var entries []ToolkitEntry
	if raw[0] == '[' {
		if err := gateway.DecodeJSON(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var wrapped struct {
		Tools []ToolkitEntry `json:"tools"`
	}
	if err := gateway.DecodeJSON(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Tools == nil {
		wrapped.Tools = []ToolkitEntry{}
	}
	return wrapped.Tools, nil
}

// SearchLibrary runs a library search.
func (c *Client) SearchLibrary(ctx context.Context, query string, limit int) ([]LibraryItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, gateway.New(gateway.CodeInvalidArgument, "query is required")
	}
	var out struct {
		Results []LibraryItem `json:"results"`
	}
	params := map[string]any{"query": query}
	if limit > 0 {
		params["limit"] = limit
	}
	if err := c.call(ctx, MethodLibrarySearch, params, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// PickDirectory opens the bridge's directory picker. ok is false when the
// user dismissed it.
func (c *Client) PickDirectory(ctx context.Context, title string) (path string, ok bool, err error) {
	var out struct {
		Path      string `json:"path"`
		Cancelled bool   `json:"cancelled"`
	}
	// The picker waits on a human; only ctx bounds it.
	if err := c.reg.InvokeInto(ctx, c.bridge, MethodPickDirectory, map[string]string{"title": title}, 0, &out); err != nil {
		return "", false, err
	}
	if out.Cancelled || out.Path == "" {
		return "", false, nil
	}
	return out.Path, true, nil
}

// ValidateWorkspaceRoot asks the bridge whether path can be a workspace.
func (c *Client) ValidateWorkspaceRoot(ctx context.Context, path string) (*WorkspaceValidation, error) {
	if strings.TrimSpace(path) == "" {
		return nil, gateway.New(gateway.CodeInvalidArgument, "path is required")
	}
	var v WorkspaceValidation
	if err := c.call(ctx, MethodValidateWorkspaceRoot, map[string]string{"path": path}, &v); err != nil {
		return nil, err
	}
	if v.Path == "" {
		v.Path = path
	}
	return &v, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream starts a remote stream and relays its events to sink until done,
// error, or cancellation. Token events carry deltas; the returned message is
// the concatenation. When tok stops (or ctx ends) stream_cancel is sent and
// the result has State cancelled with a nil error.
func (c *Client) Stream(ctx context.Context, payload StreamPayload, sink ollama.Sink, tok *cancel.Token) (*StreamResult, error) {
	if payload.ProviderName() == "" {
		return nil, gateway.New(gateway.CodeInvalidArgument, "stream payload must name its provider")
	}
	if _, err := c.reg.RequireCapability(c.bridge, MethodStreamStart); err != nil {
		return nil, err
	}
	if c.settings != nil {
		if _, err := c.settings.InjectProviderKey(ctx, &payload); err != nil {
			log.Warnf("provider key lookup failed: %v", err)
		}
	}

	// Subscribe first so no event between start and the first read is lost.
	events, unsubscribe, err := c.reg.Subscribe(c.bridge, NotifyStreamEvent)
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	var h streamHandle
	if err := c.call(ctx, MethodStreamStart, payload, &h); err != nil {
		return nil, err
	}
	if h.Handle == "" {
		return nil, gateway.New(gateway.CodeInvalidStreamHandle, "bridge returned no stream handle")
	}

	res := &StreamResult{Handle: h.Handle, State: ollama.StateStreaming}
	var acc strings.Builder
	finish := func(state ollama.StreamState) *StreamResult {
		res.State = state
		res.Message = ollama.NewAssistantMessage(acc.String())
		return res
	}
	emit := func(ev ollama.ProgressEvent) {
		if sink != nil {
			sink(ev)
		}
	}

	for {
		select {
		case <-tok.Done():
			c.cancelStream(ctx, h.Handle)
			return finish(ollama.StateCancelled), nil
		case <-ctx.Done():
			c.cancelStream(ctx, h.Handle)
			if tok.Stopped() {
				return finish(ollama.StateCancelled), nil
			}
			err := gateway.Normalize(ctx.Err(), gateway.CodeRequestCancelled)
			emit(ollama.ErrorEvent(err.Error()))
			return finish(ollama.StateFailed), err
		case raw, open := <-events:
			if !open {
				err := gateway.Newf(gateway.CodeBridgeUnavailable, "bridge %q went away mid-stream", c.bridge)
				emit(ollama.ErrorEvent(err.Error()))
				return finish(ollama.StateFailed), err
			}

			var ev StreamEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				log.Debugf("skipping malformed stream event: %v", err)
				continue
			}
			if ev.Handle != h.Handle {
				continue
			}
			if tok.Stopped() {
				c.cancelStream(ctx, h.Handle)
				return finish(ollama.StateCancelled), nil
			}

			switch ev.Kind {
			case string(ollama.EventToken):
				acc.WriteString(ev.Text)
				emit(ollama.TokenEvent(ev.Text))
			case string(ollama.EventProgress):
				emit(ollama.ProgressOf(ev.Completed, ev.Total))
			case string(ollama.EventDone):
				emit(ollama.DoneEvent())
				return finish(ollama.StateCompleted), nil
			case string(ollama.EventError):
				err := gateway.New(gateway.CodeStreamError, firstNonEmpty(ev.Detail, "remote stream failed")).
					WithDetail("handle", h.Handle)
				emit(ollama.ErrorEvent(err.Message))
				return finish(ollama.StateFailed), err
			default:
				log.Debugf("ignoring stream event kind %q", ev.Kind)
			}
		}
	}
}

// cancelStream tells the bridge to stop handle. It runs detached from ctx,
// which may already be cancelled, and only logs failures.
func (c *Client) cancelStream(ctx context.Context, handle string) {
	ctx = context.WithoutCancel(ctx)
	if err := c.call(ctx, MethodStreamCancel, map[string]string{"handle": handle}, nil); err != nil {
		log.Warnf("stream_cancel %s: %v", handle, err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
