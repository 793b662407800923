// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachments caches large attachment payloads (base64 images, PDFs)
// in the durable key/value store with a time-to-live.
//
// Expiry is lazy: an entry older than the TTL is discovered on Load, deleted
// in the background, and reported as absent. Nothing sweeps proactively.
//
// Cache operations are best-effort. Storage failures are logged and surface
// as "not found" rather than errors, because during a session the caller's
// in-process Hot map remains the primary copy. Tiered combines both tiers.
package attachments
