// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a one-shot cancellation signal. The zero value is not usable; create
// tokens with New. A nil *Token is never stopped, so callers may pass nil when
// they have nothing to cancel.
type Token struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	mu     sync.Mutex
	reason string
	hooks  []func()
}

// New returns a token whose context derives from parent. Cancelling parent
// also stops the token.
func New(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Token{ctx: ctx, cancel: cancel}
	context.AfterFunc(ctx, func() { t.stop("context done") })
	return t
}

// Cancel sets the stop flag and aborts the token's context. Safe to call more
// than once and from any goroutine.
func (t *Token) Cancel() {
	t.CancelWithReason("cancelled")
}

// CancelWithReason is Cancel with a reason recorded for Reason().
func (t *Token) CancelWithReason(reason string) {
	if t == nil {
		return
	}
	t.stop(reason)
	t.cancel()
}

func (t *Token) stop(reason string) {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	t.reason = reason
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Stopped reports whether the token has been cancelled.
func (t *Token) Stopped() bool {
	if t == nil {
		return false
	}
	return t.stopped.Load()
}

// Reason returns the reason given when the token was stopped, or "".
func (t *Token) Reason() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Context returns the context tied to the token.
func (t *Token) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.ctx
}

// Done is shorthand for Context().Done(). A nil token returns a nil channel,
// which blocks forever in a select.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ctx.Done()
}

// OnStop registers fn to run once when the token stops. If the token is
// already stopped fn runs immediately on the calling goroutine.
func (t *Token) OnStop(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.stopped.Load() {
		t.hooks = append(t.hooks, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}
