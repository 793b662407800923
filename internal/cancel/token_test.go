// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cancel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestToken_Cancel(t *testing.T) {
	tok := New(context.Background())
	if tok.Stopped() {
		t.Fatal("new token should not be stopped")
	}

	tok.Cancel()
	tok.Cancel()

	if !tok.Stopped() {
		t.Error("Stopped() = false after Cancel")
	}
	if tok.Context().Err() == nil {
		t.Error("context should be cancelled")
	}
	if got := tok.Reason(); got != "cancelled" {
		t.Errorf("Reason() = %q, want %q", got, "cancelled")
	}
}

func TestToken_ParentCancelStops(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := New(parent)
	cancel()

	deadline := time.Now().Add(time.Second)
	for !tok.Stopped() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !tok.Stopped() {
		t.Fatal("token did not observe parent cancellation")
	}
	if got := tok.Reason(); got != "context done" {
		t.Errorf("Reason() = %q, want %q", got, "context done")
	}
}

func TestToken_OnStop(t *testing.T) {
	tok := New(context.Background())

	var calls atomic.Int32
	tok.OnStop(func() { calls.Add(1) })
	tok.OnStop(func() { calls.Add(1) })

	tok.Cancel()
	if got := calls.Load(); got != 2 {
		t.Errorf("hooks ran %d times, want 2", got)
	}

	// Registered after stop: runs immediately.
	tok.OnStop(func() { calls.Add(1) })
	if got := calls.Load(); got != 3 {
		t.Errorf("late hook ran %d times total, want 3", got)
	}
}

func TestToken_ConcurrentCancel(t *testing.T) {
	tok := New(context.Background())
	var hooks atomic.Int32
	tok.OnStop(func() { hooks.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	if got := hooks.Load(); got != 1 {
		t.Errorf("hook ran %d times, want 1", got)
	}
}

func TestToken_Nil(t *testing.T) {
	var tok *Token
	tok.Cancel()
	tok.OnStop(func() { t.Error("hook on nil token must not run") })
	if tok.Stopped() {
		t.Error("nil token reports stopped")
	}
	if tok.Context() == nil {
		t.Error("nil token must still return a context")
	}
	if tok.Done() != nil {
		t.Error("nil token Done() should be nil")
	}
}
