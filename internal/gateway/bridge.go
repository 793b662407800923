// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// BRIDGE INTERFACES
// =============================================================================

// Bridge is an out-of-process capability reachable by name and method.
type Bridge interface {
	// Name identifies the bridge in the registry (e.g. "miso").
	Name() string
	// HasMethod reports whether method can currently be called.
	HasMethod(method string) bool
	// Call invokes method with params and returns the raw JSON result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Notifier is implemented by bridges that push unsolicited notifications.
type Notifier interface {
	// Subscribe returns a channel receiving the params of every notification
	// named method, and a function that ends the subscription.
	Subscribe(method string) (<-chan json.RawMessage, func())
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the bridges known to the process. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]Bridge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]Bridge)}
}

// Register adds b, replacing any bridge with the same name.
func (r *Registry) Register(b Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[b.Name()] = b
}

// Unregister removes the named bridge.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, name)
}

// Names lists registered bridges in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsCapabilityAvailable is the non-failing probe for bridge.method.
func (r *Registry) IsCapabilityAvailable(bridge, method string) bool {
	_, err := r.RequireCapability(bridge, method)
	return err == nil
}

// RequireCapability returns the bridge when it exists and exposes method,
// and a bridge_unavailable *Error otherwise.
func (r *Registry) RequireCapability(bridge, method string) (Bridge, error) {
	r.mu.RLock()
	b, ok := r.bridges[bridge]
	r.mu.RUnlock()

	if !ok || b == nil {
		return nil, Newf(CodeBridgeUnavailable, "bridge %q is not available", bridge).
			WithDetail("bridge", bridge).
			WithDetail("method", method)
	}
	if !b.HasMethod(method) {
		return nil, Newf(CodeBridgeUnavailable, "bridge %q does not expose %q", bridge, method).
			WithDetail("bridge", bridge).
			WithDetail("method", method)
	}
	return b, nil
}

// Invoke probes bridge.method, then calls it under deadline. Failures that are
// not already classified are reported as "<bridge>_<method>_failed".
func (r *Registry) Invoke(ctx context.Context, bridge, method string, params any, deadline time.Duration) (json.RawMessage, error) {
	ctx, span := otel.Tracer("rigrun-agent/gateway").Start(ctx, "gateway.invoke")
	span.SetAttributes(
		attribute.String("bridge.name", bridge),
		attribute.String("bridge.method", method),
	)
	defer span.End()

	b, err := r.RequireCapability(bridge, method)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	raw, err := CallWithDeadline(ctx, deadline, CodeRequestTimeout, func(ctx context.Context) (json.RawMessage, error) {
		raw, err := b.Call(ctx, method, params)
		if err != nil {
			var classified *Error
			if errors.As(err, &classified) {
				return nil, err
			}
			return nil, Wrap(FailedCode(bridge, method), "bridge call failed", err).
				WithDetail("bridge", bridge).
				WithDetail("method", method)
		}
		return raw, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
		return nil, err
	}
	return raw, nil
}

// InvokeInto is Invoke followed by decoding the result into out.
// An empty or null result leaves out untouched.
func (r *Registry) InvokeInto(ctx context.Context, bridge, method string, params any, deadline time.Duration, out any) error {
	raw, err := r.Invoke(ctx, bridge, method, params, deadline)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return DecodeJSON(raw, out)
}

// Subscribe subscribes to notifications from a bridge that supports them.
func (r *Registry) Subscribe(bridge, method string) (<-chan json.RawMessage, func(), error) {
	r.mu.RLock()
	b, ok := r.bridges[bridge]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, Newf(CodeBridgeUnavailable, "bridge %q is not available", bridge)
	}
	n, ok := b.(Notifier)
	if !ok {
		return nil, nil, Newf(CodeBridgeUnavailable, "bridge %q does not deliver notifications", bridge)
	}
	ch, cancel := n.Subscribe(method)
	return ch, cancel, nil
}

// =============================================================================
// NOTIFICATION HUB
// =============================================================================

// hub fans notifications out to subscribers. Each subscriber owns an
// unbounded queue drained by its own goroutine, so a slow reader never loses
// a notification and never stalls the publisher.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]*subscriber
}

type subscriber struct {
	mu      sync.Mutex
	queue   []json.RawMessage
	closing bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan json.RawMessage
}

func newSubscriber() *subscriber {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan json.RawMessage),
	}
	go s.pump()
	return s
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) push(payload json.RawMessage) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	s.signal()
}

// finish accepts no more notifications; out closes once the queue drains.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

// cancel drops anything queued and closes out promptly.
func (s *subscriber) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stop:
			return
		}
	}
}

func (h *hub) subscribe(method string) (<-chan json.RawMessage, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[string]map[int]*subscriber)
	}
	if h.subs[method] == nil {
		h.subs[method] = make(map[int]*subscriber)
	}
	id := h.next
	h.next++
	sub := newSubscriber()
	h.subs[method][id] = sub

	return sub.out, func() {
		h.mu.Lock()
		if subs, ok := h.subs[method]; ok {
			delete(subs, id)
		}
		h.mu.Unlock()
		sub.cancel()
	}
}

// publish queues payload for every subscriber of method and returns how many
// received it.
func (h *hub) publish(method string, payload json.RawMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[method] {
		sub.push(payload)
	}
	return len(h.subs[method])
}

// closeAll ends every subscription after its queued notifications are read.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for method, subs := range h.subs {
		for id, sub := range subs {
			sub.finish()
			delete(subs, id)
		}
		delete(h.subs, method)
	}
}
