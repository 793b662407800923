// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway wraps every call to an out-of-process capability.
//
// It provides three things:
//
//   - Error: the single error shape used across rigrun-agent, carrying a
//     machine-readable Code, a human message, an optional cause and details.
//   - CallWithDeadline: races an operation against a timer. The timer only
//     governs what the caller observes; the losing operation keeps running
//     unless the caller cancels it through the context it handed in.
//   - Registry: named bridges (in-process, HTTP JSON-RPC or WebSocket
//     JSON-RPC) that are probed for a method before they are called.
//
// # Usage
//
//	reg := gateway.NewRegistry()
//	reg.Register(bridge)
//	raw, err := reg.Invoke(ctx, "miso", "status", nil, 10*time.Second)
//	if gateway.CodeOf(err) == gateway.CodeBridgeUnavailable {
//	    // degrade gracefully
//	}
package gateway
