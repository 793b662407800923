// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the streaming protocol client for the local model server.
//
// It covers streaming chat completion, schema-constrained title generation,
// per-image image-to-text, model pulls with progress, and the small probe
// endpoints (version, tags, delete). Streaming bodies are newline-delimited
// JSON; each line is decoded on its own and malformed lines are skipped.
//
// # Key Types
//
//   - Client: HTTP client for the local server
//   - StreamRequest: one chat request plus its cancellation token
//   - ProgressEvent: token / progress / done / error union delivered to sinks
//   - StreamReader: line-oriented NDJSON decoder
//   - StreamState: idle, sending, streaming, completed, cancelled, failed
//
// # Usage
//
//	client := ollama.NewClient(nil)
//	tok := cancel.New(ctx)
//	res, err := client.ChatStream(ctx, ollama.StreamRequest{
//	    Model:    "llama3.2",
//	    Messages: history,
//	    Token:    tok,
//	}, func(soFar string) { render(soFar) })
//
// The callback receives the full text accumulated so far, not the delta.
//
// All errors are *gateway.Error values; HTTP failures carry the code
// ollama_http_error with the status and server message in Details.
package ollama
