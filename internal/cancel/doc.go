// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cancel provides the cooperative cancellation token shared by stream
// read loops and the agent runner.
//
// A Token is both a polled flag and a context: read loops check Stopped()
// between chunk reads, and the same token's Context() is handed to the
// transport so that setting the flag also aborts an in-flight read.
//
// Usage:
//
//	tok := cancel.New(ctx)
//	go func() { <-stopButton; tok.Cancel() }()
//	msg, err := client.ChatStream(tok.Context(), req, onToken)
package cancel
