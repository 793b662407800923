// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestFailedCode(t *testing.T) {
	tests := []struct {
		bridge, method string
		want           Code
	}{
		{"miso", "status", "miso_status_failed"},
		{"miso", "getCatalog", "miso_get_catalog_failed"},
		{"miso", "stream-start", "miso_stream_start_failed"},
		{"Toolkit", "validate_workspace_root", "toolkit_validate_workspace_root_failed"},
	}
	for _, tc := range tests {
		if got := FailedCode(tc.bridge, tc.method); got != tc.want {
			t.Errorf("FailedCode(%q, %q) = %q, want %q", tc.bridge, tc.method, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	var syntaxErr error
	var v any
	syntaxErr = json.Unmarshal([]byte("{"), &v)

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline", context.DeadlineExceeded, CodeRequestTimeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), CodeRequestTimeout},
		{"cancelled", context.Canceled, CodeRequestCancelled},
		{"json syntax", syntaxErr, CodeInvalidJSON},
		{"plain", errors.New("boom"), CodeStreamError},
		{"already typed", New(CodeParseError, "bad"), CodeParseError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.err, CodeStreamError)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.Code)
		})
	}

	assert.Nil(t, Normalize(nil, CodeStreamError))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeRequestTimeout, "status probe", context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrBridgeUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "cause must stay reachable")
	assert.Equal(t, CodeRequestTimeout, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("x")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestDecodeJSON(t *testing.T) {
	var out map[string]any
	err := DecodeJSON([]byte("not json"), &out)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidJSON, CodeOf(err))

	require.NoError(t, DecodeJSON([]byte(`{"a":1}`), &out))
	assert.Equal(t, float64(1), out["a"])
}

// =============================================================================
// DEADLINE TESTS
// =============================================================================

func TestCallWithDeadline_OperationWins(t *testing.T) {
	got, err := CallWithDeadline(context.Background(), time.Second, "", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestCallWithDeadline_TimerWinsAndLoserKeepsRunning(t *testing.T) {
	var finished atomic.Bool
	release := make(chan struct{})

	_, err := CallWithDeadline(context.Background(), 20*time.Millisecond, "status_timeout", func(ctx context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})
	require.Error(t, err)
	assert.Equal(t, Code("status_timeout"), CodeOf(err))

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, int64(20), gerr.Details["deadline_ms"])

	// The losing operation is not retracted; it completes on its own.
	close(release)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
}

func TestCallWithDeadline_ErrorsAreNormalized(t *testing.T) {
	_, err := CallWithDeadline(context.Background(), time.Second, "", func(ctx context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	})
	assert.Equal(t, CodeRequestTimeout, CodeOf(err))

	_, err = CallWithDeadline(context.Background(), time.Second, "", func(ctx context.Context) (int, error) {
		panic("bridge exploded")
	})
	assert.Equal(t, CodeUnknown, CodeOf(err))
	assert.Contains(t, err.Error(), "bridge exploded")
}

func TestCallWithDeadline_NoDeadline(t *testing.T) {
	got, err := CallWithDeadline(context.Background(), 0, "", func(ctx context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestCallWithDeadline_PassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CallWithDeadline(ctx, time.Second, "", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.Equal(t, CodeRequestCancelled, CodeOf(err))
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func newTestRegistry() (*Registry, *FuncBridge) {
	b := NewFuncBridge("miso").
		Handle("status", func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"running": true}, nil
		}).
		Handle("restart", func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, errors.New("restart refused")
		}).
		Handle("slow", func(ctx context.Context, params json.RawMessage) (any, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, nil
		}).
		Handle("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
			return params, nil
		})
	reg := NewRegistry()
	reg.Register(b)
	return reg, b
}

func TestRegistry_RequireCapability(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.RequireCapability("miso", "status")
	require.NoError(t, err)

	_, err = reg.RequireCapability("miso", "teleport")
	assert.Equal(t, CodeBridgeUnavailable, CodeOf(err))

	_, err = reg.RequireCapability("toolkit", "status")
	assert.Equal(t, CodeBridgeUnavailable, CodeOf(err))

	assert.True(t, reg.IsCapabilityAvailable("miso", "status"))
	assert.False(t, reg.IsCapabilityAvailable("toolkit", "status"))

	reg.Unregister("miso")
	assert.False(t, reg.IsCapabilityAvailable("miso", "status"))
}

func TestRegistry_Invoke(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	var status struct {
		Running bool `json:"running"`
	}
	require.NoError(t, reg.InvokeInto(ctx, "miso", "status", nil, time.Second, &status))
	assert.True(t, status.Running)

	_, err := reg.Invoke(ctx, "miso", "restart", nil, time.Second)
	assert.Equal(t, Code("miso_restart_failed"), CodeOf(err))

	_, err = reg.Invoke(ctx, "miso", "slow", nil, 20*time.Millisecond)
	assert.Equal(t, CodeRequestTimeout, CodeOf(err))

	raw, err := reg.Invoke(ctx, "miso", "echo", map[string]string{"q": "llama"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"q":"llama"}`, string(raw))

	var bad struct{ N int }
	err = reg.InvokeInto(ctx, "miso", "echo", map[string]string{"N": "x"}, time.Second, &bad)
	assert.Equal(t, CodeInvalidJSON, CodeOf(err))
}

func TestRegistry_Subscribe(t *testing.T) {
	reg, b := newTestRegistry()

	ch, cancel, err := reg.Subscribe("miso", "stream_event")
	require.NoError(t, err)

	require.NoError(t, b.Notify("stream_event", map[string]string{"kind": "token"}))
	select {
	case raw := <-ch:
		assert.JSONEq(t, `{"kind":"token"}`, string(raw))
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	cancel()
	cancel() // idempotent
	_, open := <-ch
	assert.False(t, open)

	reg.Register(NewHTTPBridge("plain", "http://127.0.0.1:1", nil, nil))
	_, _, err = reg.Subscribe("plain", "stream_event")
	assert.Equal(t, CodeBridgeUnavailable, CodeOf(err))
}

func TestFuncBridge_NotifyKeepsBacklog(t *testing.T) {
	b := NewFuncBridge("miso")
	ch, cancel := b.Subscribe("stream_event")
	defer cancel()

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, b.Notify("stream_event", i))
	}

	for i := 0; i < n; i++ {
		select {
		case raw := <-ch:
			assert.Equal(t, fmt.Sprint(i), string(raw))
		case <-time.After(time.Second):
			t.Fatalf("notification %d not delivered", i)
		}
	}
}

func TestHub_CloseAllDeliversQueued(t *testing.T) {
	var h hub
	ch, _ := h.subscribe("pong")
	for i := 0; i < 300; i++ {
		assert.Equal(t, 1, h.publish("pong", json.RawMessage(`{}`)))
	}
	h.closeAll()
	assert.Equal(t, 0, h.publish("pong", json.RawMessage(`{}`)))

	got := 0
	for range ch {
		got++
	}
	assert.Equal(t, 300, got)
}

func TestRegistry_Names(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Register(NewFuncBridge("alpha"))
	assert.Equal(t, []string{"alpha", "miso"}, reg.Names())
}
