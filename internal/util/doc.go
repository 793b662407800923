// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds the small helpers shared by the store, the config layer
// and usage tracking.
//
//   - AtomicWriteFile: temp file, fsync, rename
//   - TruncateRunes: rune-safe truncation with an ellipsis
//   - TruncateWidth: display-width truncation for terminal columns
package util
