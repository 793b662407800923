// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"sync"
)

// MethodFunc implements one method of an in-process bridge.
type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// FuncBridge is a bridge whose methods are Go functions. It backs embedded
// hosts and tests.
type FuncBridge struct {
	name    string
	mu      sync.RWMutex
	methods map[string]MethodFunc
	hub     hub
}

// NewFuncBridge creates an empty in-process bridge.
func NewFuncBridge(name string) *FuncBridge {
	return &FuncBridge{name: name, methods: make(map[string]MethodFunc)}
}

// Handle registers fn for method and returns b for chaining.
func (b *FuncBridge) Handle(method string, fn MethodFunc) *FuncBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.methods[method] = fn
	return b
}

// Name implements Bridge.
func (b *FuncBridge) Name() string { return b.name }

// HasMethod implements Bridge.
func (b *FuncBridge) HasMethod(method string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.methods[method]
	return ok
}

// Call implements Bridge. Params and results round-trip through JSON so the
// behaviour matches the out-of-process transports.
func (b *FuncBridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.RLock()
	fn, ok := b.methods[method]
	b.mu.RUnlock()
	if !ok {
		return nil, Newf(CodeBridgeUnavailable, "bridge %q does not expose %q", b.name, method)
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, Wrap(CodeInvalidArgument, "failed to marshal params", err)
		}
		raw = data
	}

	result, err := fn(ctx, raw)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if r, ok := result.(json.RawMessage); ok {
		return r, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, Wrap(CodeInvalidJSON, "failed to marshal result", err)
	}
	return data, nil
}

// Notify publishes a notification to subscribers of method.
func (b *FuncBridge) Notify(method string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return Wrap(CodeInvalidJSON, "failed to marshal notification", err)
	}
	b.hub.publish(method, data)
	return nil
}

// Subscribe implements Notifier.
func (b *FuncBridge) Subscribe(method string) (<-chan json.RawMessage, func()) {
	return b.hub.subscribe(method)
}
