// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog reduces heterogeneous provider/model/capability payloads
// into one canonical Catalog.
//
// Normalize is a pure function and idempotent: feeding a normalized catalog
// (or its JSON encoding) back in yields the same value. A Holder publishes the
// current catalog; catalogs are replaced wholesale, never mutated.
package catalog
