// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachments

import (
	"context"
	"sync"
)

// Hot is an in-process map of entries. It is an accelerator only; nothing in
// it survives the process.
type Hot struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewHot returns an empty hot map.
func NewHot() *Hot {
	return &Hot{entries: make(map[string]Entry)}
}

// Get returns the entry for id.
func (h *Hot) Get(id string) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	return e, ok
}

// Put stores e under its ID.
func (h *Hot) Put(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[e.ID] = e
}

// Delete removes id.
func (h *Hot) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, id)
}

// Clear removes every entry.
func (h *Hot) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
}

// Len reports how many entries are held.
func (h *Hot) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Tiered reads through the hot map to the durable cache and writes to both.
type Tiered struct {
	Hot     *Hot
	Durable *Cache
}

// NewTiered pairs a fresh hot map with durable.
func NewTiered(durable *Cache) *Tiered {
	return &Tiered{Hot: NewHot(), Durable: durable}
}

// Save writes to both tiers and returns the id.
func (t *Tiered) Save(ctx context.Context, id string, payload Payload, name string) string {
	entry := t.Durable.save(ctx, id, payload, name)
	t.Hot.Put(entry)
	return entry.ID
}

// Load serves from the hot map when the entry there is still within the TTL,
// otherwise from the durable tier, repopulating the hot map on a hit.
func (t *Tiered) Load(ctx context.Context, id string) *Payload {
	if e, ok := t.Hot.Get(id); ok {
		if !t.Durable.expired(&e) {
			return &e.Payload
		}
		t.Hot.Delete(id)
	}
	entry := t.Durable.LoadEntry(ctx, id)
	if entry == nil {
		return nil
	}
	t.Hot.Put(*entry)
	return &entry.Payload
}

// Delete removes id from both tiers.
func (t *Tiered) Delete(ctx context.Context, id string) {
	t.Hot.Delete(id)
	t.Durable.Delete(ctx, id)
}

// ClearAll empties both tiers.
func (t *Tiered) ClearAll(ctx context.Context) {
	t.Hot.Clear()
	t.Durable.ClearAll(ctx)
}
