// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote drives remote model providers through an out-of-process
// bridge. Every call is probed for availability and bounded by the gateway
// deadline; failures come back as *gateway.Error with codes such as
// miso_status_failed or bridge_unavailable.
//
// Streams are started with stream_start, observed through stream_event
// notifications carrying the stream handle, and stopped with stream_cancel.
package remote
