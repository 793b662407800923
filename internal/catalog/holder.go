// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import "sync/atomic"

// Holder publishes the current catalog. Readers always see a complete
// catalog; Store swaps in a new one atomically.
type Holder struct {
	cur atomic.Pointer[Catalog]
}

// NewHolder returns a holder containing an empty catalog.
func NewHolder() *Holder {
	h := &Holder{}
	h.cur.Store(Empty())
	return h
}

// Load returns the current catalog. Callers must not modify it.
func (h *Holder) Load() *Catalog {
	return h.cur.Load()
}

// Store replaces the current catalog. A nil catalog is stored as Empty().
func (h *Holder) Store(c *Catalog) {
	if c == nil {
		c = Empty()
	}
	h.cur.Store(c)
}

// Update normalizes raw and stores the result.
func (h *Holder) Update(raw map[string]any) *Catalog {
	c := Normalize(raw)
	h.Store(c)
	return c
}

// FromLocalModels builds a catalog listing names under the ollama provider.
// It is used when only the local server is reachable.
func FromLocalModels(names []string, active string) *Catalog {
	raw := map[string]any{
		"providers": map[string]any{"ollama": toAny(names)},
	}
	if active != "" {
		raw["active_model"] = active
	}
	return Normalize(raw)
}
