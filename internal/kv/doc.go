// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the durable key/value store used for attachment
// payloads and settings.
//
// Values are opaque strings (JSON-serialized by callers). Three backends
// implement Store:
//
//   - SQLiteStore: modernc.org/sqlite with WAL and goose migrations (default)
//   - FileStore: one atomically written file per key
//   - MemoryStore: in-process map, for tests and ephemeral sessions
//
// All backends are safe for concurrent access to independent keys. There are
// no cross-key transactions.
package kv
