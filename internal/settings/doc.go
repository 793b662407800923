// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings reads and writes the nested settings object kept in the
// durable store and resolves provider API keys from it.
//
// The object is stored as JSON under the "settings" key:
//
//	{"providers": {"openai": {"api_key": "sk-..."}}, "active_model": "openai:gpt-5"}
//
// InjectProviderKey adds a key to an outgoing payload only when the payload
// names its provider explicitly and carries no key of its own.
package settings
