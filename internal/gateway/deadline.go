// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"fmt"
	"time"
)

// CallWithDeadline runs op and returns whichever settles first: op or a timer
// of length deadline. When the timer wins the result is an *Error with
// timeoutCode (CodeRequestTimeout if empty) and op is left running; its effects
// are not retracted. Callers that need the operation itself stopped must cancel
// ctx, which is passed through to op unchanged.
//
// A non-positive deadline disables the timer. Errors and panics from op are
// normalized into *Error.
func CallWithDeadline[T any](ctx context.Context, deadline time.Duration, timeoutCode Code, op func(context.Context) (T, error)) (T, error) {
	if timeoutCode == "" {
		timeoutCode = CodeRequestTimeout
	}

	type outcome struct {
		val T
		err error
	}

	// Buffered so a late op never blocks after the timer has won.
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = Newf(CodeUnknown, "operation panicked: %v", r)
			}
			done <- out
		}()
		out.val, out.err = op(ctx)
	}()

	var zero T
	if deadline <= 0 {
		out := <-done
		if out.err != nil {
			return zero, Normalize(out.err, CodeUnknown)
		}
		return out.val, nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return zero, Normalize(out.err, CodeUnknown)
		}
		return out.val, nil
	case <-timer.C:
		return zero, New(timeoutCode, fmt.Sprintf("operation exceeded %s", deadline)).
			WithDetail("deadline_ms", deadline.Milliseconds())
	}
}
