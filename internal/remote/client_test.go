// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/catalog"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/kv"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/settings"
)

// fakeMiso is an in-process bridge whose stream_start replays script.
type fakeMiso struct {
	*gateway.FuncBridge

	mu        sync.Mutex
	started   []StreamPayload
	cancelled []string
	script    []StreamEvent
}

func newFakeMiso() *fakeMiso {
	f := &fakeMiso{FuncBridge: gateway.NewFuncBridge("miso")}
	f.Handle(MethodStatus, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return Status{Running: true, Version: "1.4.0"}, nil
	})
	f.Handle(MethodRestart, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, errors.New("restart not permitted")
	})
	f.Handle(MethodCatalog, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{
			"providers":    map[string]any{"openai": []string{"gpt-5", " gpt-5 ", "gpt-5-mini"}},
			"active_model": "openai:gpt-5",
		}, nil
	})
	f.Handle(MethodToolkitCatalog, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"tools": []ToolkitEntry{{ID: "grep", Name: "Grep"}}}, nil
	})
	f.Handle(MethodLibrarySearch, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		_ = json.Unmarshal(params, &p)
		return map[string]any{"results": []LibraryItem{{ID: "1", Title: p.Query}}}, nil
	})
	f.Handle(MethodPickDirectory, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"cancelled": true}, nil
	})
	f.Handle(MethodValidateWorkspaceRoot, func(ctx context.Context, params json.RawMessage) (any, error) {
		return WorkspaceValidation{Valid: false, Reason: "not a directory"}, nil
	})
	f.Handle(MethodStreamStart, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p StreamPayload
		_ = json.Unmarshal(params, &p)
		f.mu.Lock()
		f.started = append(f.started, p)
		script := f.script
		f.mu.Unlock()
		for _, ev := range script {
			_ = f.Notify(NotifyStreamEvent, ev)
		}
		return streamHandle{Handle: "h1"}, nil
	})
	f.Handle(MethodStreamCancel, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Handle string `json:"handle"`
		}
		_ = json.Unmarshal(params, &p)
		f.mu.Lock()
		f.cancelled = append(f.cancelled, p.Handle)
		f.mu.Unlock()
		return nil, nil
	})
	return f
}

func setup(t *testing.T, opts ...Option) (*Client, *fakeMiso) {
	t.Helper()
	f := newFakeMiso()
	reg := gateway.NewRegistry()
	reg.Register(f)
	return NewClient(reg, "", append([]Option{WithDeadline(time.Second)}, opts...)...), f
}

// =============================================================================
// SIMPLE CAPABILITIES
// =============================================================================

func TestClient_StatusAndRestart(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	s, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.Equal(t, "1.4.0", s.Version)

	err = c.Restart(ctx)
	assert.Equal(t, gateway.Code("miso_restart_failed"), gateway.CodeOf(err))
}

func TestClient_BridgeMissing(t *testing.T) {
	c := NewClient(gateway.NewRegistry(), "miso")
	_, err := c.Status(context.Background())
	assert.Equal(t, gateway.CodeBridgeUnavailable, gateway.CodeOf(err))
	assert.False(t, c.Available(MethodStatus))
}

func TestClient_Catalog(t *testing.T) {
	holder := catalog.NewHolder()
	c, _ := setup(t, WithCatalogHolder(holder))

	cat, err := c.Catalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-5", "gpt-5-mini"}, cat.Providers["openai"])
	assert.Equal(t, "openai:gpt-5", cat.ActiveModel)
	assert.Same(t, cat, holder.Load())
}

func TestClient_Misc(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	tools, err := c.ToolkitCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ToolkitEntry{{ID: "grep", Name: "Grep"}}, tools)

	hits, err := c.SearchLibrary(ctx, "streams", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "streams", hits[0].Title)

	_, err = c.SearchLibrary(ctx, " ", 0)
	assert.Equal(t, gateway.CodeInvalidArgument, gateway.CodeOf(err))

	_, ok, err := c.PickDirectory(ctx, "Choose workspace")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := c.ValidateWorkspaceRoot(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "/etc/passwd", v.Path)
}

// =============================================================================
// STREAMING
// =============================================================================

func TestClient_Stream(t *testing.T) {
	ctx := context.Background()
	mgr := settings.NewManager(kv.NewMemoryStore())
	require.NoError(t, mgr.SetAPIKey(ctx, "openai", "sk-stored"))

	c, f := setup(t, WithSettings(mgr))
	f.script = []StreamEvent{
		{Handle: "other", Kind: "token", Text: "ignored"},
		{Handle: "h1", Kind: "token", Text: "Hel"},
		{Handle: "h1", Kind: "bogus"},
		{Handle: "h1", Kind: "token", Text: "lo"},
		{Handle: "h1", Kind: "done"},
	}

	var kinds []ollama.EventKind
	res, err := c.Stream(ctx, StreamPayload{Provider: "openai", Model: "gpt-5"}, func(ev ollama.ProgressEvent) {
		kinds = append(kinds, ev.Kind)
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, ollama.StateCompleted, res.State)
	assert.Equal(t, "Hello", res.Message.Content)
	assert.Equal(t, []ollama.EventKind{ollama.EventToken, ollama.EventToken, ollama.EventDone}, kinds)

	require.Len(t, f.started, 1)
	assert.Equal(t, "sk-stored", f.started[0].APIKey)
}

func TestClient_StreamKeepsCallerKey(t *testing.T) {
	ctx := context.Background()
	mgr := settings.NewManager(kv.NewMemoryStore())
	require.NoError(t, mgr.SetAPIKey(ctx, "openai", "sk-stored"))

	c, f := setup(t, WithSettings(mgr))
	f.script = []StreamEvent{{Handle: "h1", Kind: "done"}}

	_, err := c.Stream(ctx, StreamPayload{Provider: "openai", APIKey: "sk-caller"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-caller", f.started[0].APIKey)
}

func TestClient_StreamRequiresProvider(t *testing.T) {
	c, f := setup(t)
	_, err := c.Stream(context.Background(), StreamPayload{Model: "openai/gpt-5"}, nil, nil)
	assert.Equal(t, gateway.CodeInvalidArgument, gateway.CodeOf(err))
	assert.Empty(t, f.started)
}

func TestClient_StreamError(t *testing.T) {
	c, f := setup(t)
	f.script = []StreamEvent{
		{Handle: "h1", Kind: "token", Text: "partial"},
		{Handle: "h1", Kind: "error", Detail: "rate limited"},
	}
	res, err := c.Stream(context.Background(), StreamPayload{Provider: "anthropic"}, nil, nil)
	assert.Equal(t, gateway.CodeStreamError, gateway.CodeOf(err))
	assert.Equal(t, ollama.StateFailed, res.State)
	assert.Equal(t, "partial", res.Message.Content)
}

func TestClient_StreamCancel(t *testing.T) {
	c, f := setup(t)
	f.script = []StreamEvent{{Handle: "h1", Kind: "token", Text: "a"}}

	tok := cancel.New(context.Background())
	res, err := c.Stream(context.Background(), StreamPayload{Provider: "openai"}, func(ev ollama.ProgressEvent) {
		if ev.Kind == ollama.EventToken {
			tok.Cancel()
		}
	}, tok)

	require.NoError(t, err)
	assert.Equal(t, ollama.StateCancelled, res.State)
	assert.Equal(t, "a", res.Message.Content)
	assert.Equal(t, []string{"h1"}, f.cancelled)
}

func TestClient_StreamLongScript(t *testing.T) {
	c, f := setup(t)
	for i := 0; i < 300; i++ {
		f.script = append(f.script, StreamEvent{Handle: "h1", Kind: "token", Text: "x"})
	}
	f.script = append(f.script, StreamEvent{Handle: "h1", Kind: "done"})

	tokens := 0
	res, err := c.Stream(context.Background(), StreamPayload{Provider: "openai"}, func(ev ollama.ProgressEvent) {
		if ev.Kind == ollama.EventToken {
			tokens++
		}
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, ollama.StateCompleted, res.State)
	assert.Equal(t, strings.Repeat("x", 300), res.Message.Content)
	assert.Equal(t, 300, tokens)
}

func TestClient_StreamContextExpires(t *testing.T) {
	c, f := setup(t)
	f.script = []StreamEvent{{Handle: "h1", Kind: "token", Text: "a"}}

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	res, err := c.Stream(ctx, StreamPayload{Provider: "openai"}, nil, nil)

	assert.Equal(t, gateway.CodeRequestTimeout, gateway.CodeOf(err))
	require.NotNil(t, res)
	assert.Equal(t, ollama.StateFailed, res.State)
	assert.Equal(t, "a", res.Message.Content)
	assert.Equal(t, []string{"h1"}, f.cancelled)
}

func TestClient_StreamMissingHandle(t *testing.T) {
	c, f := setup(t)
	f.Handle(MethodStreamStart, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{}, nil
	})
	_, err := c.Stream(context.Background(), StreamPayload{Provider: "openai"}, nil, nil)
	assert.Equal(t, gateway.CodeInvalidStreamHandle, gateway.CodeOf(err))
}
