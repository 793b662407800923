// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var wsLog = logging.Named("gateway/ws")

// WSBridge speaks JSON-RPC 2.0 over a single WebSocket connection. Calls are
// matched to responses by ID; messages without an ID are notifications and are
// fanned out to subscribers.
type WSBridge struct {
	name    string
	methods map[string]bool

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	closed  bool
	done    chan struct{}

	hub hub
}

// DialWS connects to url and starts the read loop.
func DialWS(ctx context.Context, name, url string, methods []string) (*WSBridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, Wrap(CodeBridgeUnavailable, "failed to connect to bridge", err).
			WithDetail("bridge", name).
			WithDetail("url", url)
	}
	return NewWSBridge(name, conn, methods), nil
}

// NewWSBridge wraps an established connection.
func NewWSBridge(name string, conn *websocket.Conn, methods []string) *WSBridge {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	b := &WSBridge{
		name:    name,
		methods: set,
		conn:    conn,
		pending: make(map[string]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Name implements Bridge.
func (b *WSBridge) Name() string { return b.name }

// HasMethod implements Bridge. A closed connection exposes nothing.
func (b *WSBridge) HasMethod(method string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.methods[method]
}

// Call implements Bridge.
func (b *WSBridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	rawID, _ := json.Marshal(id)
	req, err := newRPCRequest(rawID, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcResponse, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, Newf(CodeBridgeUnavailable, "bridge %q is closed", b.name)
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err = b.conn.WriteJSON(req)
	b.writeMu.Unlock()
	if err != nil {
		return nil, Wrap(CodeBridgeUnavailable, "failed to send request", err).WithDetail("bridge", b.name)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-b.done:
		return nil, Newf(CodeBridgeUnavailable, "bridge %q closed during call", b.name)
	case <-ctx.Done():
		return nil, Normalize(ctx.Err(), CodeUnknown)
	}
}

// Subscribe implements Notifier.
func (b *WSBridge) Subscribe(method string) (<-chan json.RawMessage, func()) {
	return b.hub.subscribe(method)
}

// Done is closed once the connection is gone.
func (b *WSBridge) Done() <-chan struct{} { return b.done }

// Close shuts the connection down. Pending calls fail with bridge_unavailable.
func (b *WSBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	return b.conn.Close()
}

func (b *WSBridge) readLoop() {
	defer func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
		b.hub.closeAll()
	}()

	for {
		var msg rpcResponse
		if err := b.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				wsLog.Warnf("bridge %s: read failed: %v", b.name, err)
			}
			return
		}

		if msg.isNotification() {
			if n := b.hub.publish(msg.Method, msg.Params); n == 0 {
				wsLog.Debugf("bridge %s: no subscriber for %s", b.name, msg.Method)
			}
			continue
		}

		var id string
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			wsLog.Debugf("bridge %s: ignoring response with unexpected id %s", b.name, string(msg.ID))
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[id]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}
