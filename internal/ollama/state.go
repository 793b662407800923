// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"sync"
)

// StreamState is the lifecycle of one streaming call.
type StreamState string

const (
	StateIdle      StreamState = "idle"
	StateSending   StreamState = "sending"
	StateStreaming StreamState = "streaming"
	StateCompleted StreamState = "completed"
	StateCancelled StreamState = "cancelled"
	StateFailed    StreamState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s StreamState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// stateMachine tracks a StreamState and rejects invalid transitions.
// Valid: idle -> sending -> streaming -> completed|cancelled; any -> failed.
type stateMachine struct {
	mu      sync.Mutex
	state   StreamState
	onState func(StreamState)
}

func newStateMachine(onState func(StreamState)) *stateMachine {
	return &stateMachine{state: StateIdle, onState: onState}
}

func (m *stateMachine) current() StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) to(next StreamState) error {
	m.mu.Lock()
	if !validTransition(m.state, next) {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("invalid stream transition from %s to %s", from, next)
	}
	m.state = next
	cb := m.onState
	m.mu.Unlock()

	if cb != nil {
		cb(next)
	}
	return nil
}

func validTransition(from, to StreamState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateFailed:
		return true
	case StateSending:
		return from == StateIdle
	case StateStreaming:
		return from == StateSending
	case StateCompleted, StateCancelled:
		return from == StateStreaming
	}
	return false
}
