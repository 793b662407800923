// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachments

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-agent/internal/kv"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var log = logging.Named("attachments")

// KeyPrefix namespaces attachment entries in the store.
const KeyPrefix = "attachment:"

// DefaultTTL is how long an entry stays loadable.
const DefaultTTL = 7 * 24 * time.Hour

// =============================================================================
// TYPES
// =============================================================================

// Source types.
const (
	SourceBase64 = "base64"
	SourceURL    = "url"
)

// Source is where the attachment bytes come from.
type Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Payload is an attachment as sent to a model ("image", "document", ...).
type Payload struct {
	Type   string `json:"type"`
	Source Source `json:"source"`
}

// Entry is what the store holds for one attachment.
type Entry struct {
	ID        string  `json:"id"`
	Payload   Payload `json:"payload"`
	Name      string  `json:"name,omitempty"`
	CreatedAt int64   `json:"createdAt"` // unix milliseconds
}

// Created returns CreatedAt as a time.
func (e *Entry) Created() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// Info describes an entry without its payload.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// SizeOf estimates the decoded size of a payload: round(len(base64)*0.75).
// URL sources have no local bytes and report 0.
func SizeOf(p Payload) int64 {
	if p.Source.Type == SourceURL || p.Source.Data == "" {
		return 0
	}
	return int64(math.Round(float64(len(p.Source.Data)) * 0.75))
}

// =============================================================================
// CACHE
// =============================================================================

// Cache is the durable tier.
type Cache struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time

	pending sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache over store.
func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

func key(id string) string { return KeyPrefix + id }

// Save stores payload under id (a new UUID when id is empty) and returns the
// id. Failures are logged, not returned.
func (c *Cache) Save(ctx context.Context, id string, payload Payload, name string) string {
	return c.save(ctx, id, payload, name).ID
}

// save is Save returning the entry as written.
func (c *Cache) save(ctx context.Context, id string, payload Payload, name string) Entry {
	if id == "" {
		id = uuid.NewString()
	}
	entry := Entry{ID: id, Payload: payload, Name: name, CreatedAt: c.now().UnixMilli()}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warnf("encode attachment %s: %v", id, err)
		return entry
	}
	if err := c.store.SetItem(ctx, key(id), string(data)); err != nil {
		log.Warnf("save attachment %s: %v", id, err)
	}
	return entry
}

// Load returns the payload for id, or nil if it is absent, expired or
// unreadable. An expired entry is deleted in the background.
func (c *Cache) Load(ctx context.Context, id string) *Payload {
	entry := c.entry(ctx, id)
	if entry == nil {
		return nil
	}
	return &entry.Payload
}

// LoadEntry is Load returning the whole entry.
func (c *Cache) LoadEntry(ctx context.Context, id string) *Entry {
	return c.entry(ctx, id)
}

func (c *Cache) entry(ctx context.Context, id string) *Entry {
	raw, ok, err := c.store.GetItem(ctx, key(id))
	if err != nil {
		log.Warnf("load attachment %s: %v", id, err)
		return nil
	}
	if !ok {
		return nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.Warnf("attachment %s is corrupt, ignoring: %v", id, err)
		return nil
	}

	if c.expired(&entry) {
		c.deleteAsync(ctx, id, entry.CreatedAt)
		return nil
	}
	return &entry
}

func (c *Cache) expired(e *Entry) bool {
	return c.now().Sub(e.Created()) > c.ttl
}

// deleteAsync removes id in the background, but only while the stored entry
// is still the expired one that was read. A Save that lands in between wins.
func (c *Cache) deleteAsync(ctx context.Context, id string, createdAt int64) {
	ctx = context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		raw, ok, err := c.store.GetItem(ctx, key(id))
		if err != nil || !ok {
			return
		}
		var current Entry
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return
		}
		if current.CreatedAt != createdAt || !c.expired(&current) {
			log.Debugf("attachment %s was rewritten, keeping it", id)
			return
		}
		c.Delete(ctx, id)
		log.Debugf("expired attachment %s removed", id)
	}()
}

// Wait blocks until background deletions have finished.
func (c *Cache) Wait() {
	c.pending.Wait()
}

// Delete removes id. Failures are logged, not returned.
func (c *Cache) Delete(ctx context.Context, id string) {
	if err := c.store.RemoveItem(ctx, key(id)); err != nil {
		log.Warnf("delete attachment %s: %v", id, err)
	}
}

// List describes every stored entry, oldest first, without payload bytes.
// Expired entries are listed until a Load discovers them.
func (c *Cache) List(ctx context.Context) []Info {
	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		log.Warnf("list attachments: %v", err)
		return []Info{}
	}

	infos := make([]Info, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := c.store.GetItem(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		id := entry.ID
		if id == "" {
			id = strings.TrimPrefix(k, KeyPrefix)
		}
		infos = append(infos, Info{
			ID:        id,
			Name:      entry.Name,
			SizeBytes: SizeOf(entry.Payload),
			CreatedAt: entry.Created(),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// ClearAll removes every attachment entry and leaves other keys alone.
func (c *Cache) ClearAll(ctx context.Context) {
	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		log.Warnf("clear attachments: %v", err)
		return
	}
	for _, k := range keys {
		if err := c.store.RemoveItem(ctx, k); err != nil {
			log.Warnf("clear attachment %s: %v", k, err)
		}
	}
}
