// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/kv"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageKeyPrefix namespaces persisted sessions in the key/value store.
const UsageKeyPrefix = "usage:"

// Source says which path served a query.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceAgent  Source = "agent"
)

const (
	maxRecentQueries = 10
	maxPromptRunes   = 100
	sessionIDLayout  = "20060102-150405"
)

// sessionIDCounter keeps session IDs unique when created rapidly.
var sessionIDCounter uint64

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns Input+Output.
func (t TokenCount) Total() int { return t.Input + t.Output }

// QueryUsage records one query.
type QueryUsage struct {
	Timestamp    time.Time     `json:"timestamp"`
	Model        string        `json:"model"`
	Source       Source        `json:"source"`
	Prompt       string        `json:"prompt"` // first 100 runes
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// SessionUsage aggregates one session.
type SessionUsage struct {
	ID        string                `json:"id"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time,omitzero"`
	ByModel   map[string]TokenCount `json:"by_model"`
	BySource  map[Source]int        `json:"by_source"`
	Queries   int                   `json:"queries"`
	Duration  time.Duration         `json:"duration"`
	Recent    []QueryUsage          `json:"recent"`
}

// Tokens returns the session's total token counts.
func (s *SessionUsage) Tokens() TokenCount {
	var total TokenCount
	for _, c := range s.ByModel {
		total.Input += c.Input
		total.Output += c.Output
	}
	return total
}

// UsageTrends aggregates sessions over a number of days.
type UsageTrends struct {
	Days    int                   `json:"days"`
	Total   TokenCount            `json:"total"`
	Queries int                   `json:"queries"`
	Daily   []DailyUsage          `json:"daily"`
	ByModel map[string]TokenCount `json:"by_model"`
}

// DailyUsage is one day of a UsageTrends.
type DailyUsage struct {
	Date    time.Time  `json:"date"`
	Tokens  TokenCount `json:"tokens"`
	Queries int        `json:"queries"`
}

// UsageTracker tracks token usage for the current session.
type UsageTracker struct {
	mu      sync.RWMutex
	store   kv.Store
	current *SessionUsage
	now     func() time.Time
}

// UsageOption configures a UsageTracker.
type UsageOption func(*UsageTracker)

// WithUsageClock sets the time source.
func WithUsageClock(now func() time.Time) UsageOption {
	return func(t *UsageTracker) { t.now = now }
}

// NewUsageTracker creates a tracker persisting into store. A nil store keeps
// usage in memory only.
func NewUsageTracker(store kv.Store, opts ...UsageOption) *UsageTracker {
	t := &UsageTracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.current = t.newSession()
	return t
}

func (t *UsageTracker) newSession() *SessionUsage {
	now := t.now()
	counter := atomic.AddUint64(&sessionIDCounter, 1)
	return &SessionUsage{
		ID:        fmt.Sprintf("%s-%d", now.Format(sessionIDLayout), counter),
		StartTime: now,
		ByModel:   map[string]TokenCount{},
		BySource:  map[Source]int{},
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// Record adds one query to the current session.
func (t *UsageTracker) Record(model string, source Source, inputTokens, outputTokens int, duration time.Duration, prompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.current
	c := s.ByModel[model]
	c.Input += inputTokens
	c.Output += outputTokens
	s.ByModel[model] = c
	s.BySource[source]++
	s.Queries++
	s.Duration += duration

	s.Recent = append(s.Recent, QueryUsage{
		Timestamp:    t.now(),
		Model:        model,
		Source:       source,
		Prompt:       util.TruncateRunes(strings.TrimSpace(prompt), maxPromptRunes),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     duration,
	})
	if len(s.Recent) > maxRecentQueries {
		s.Recent = s.Recent[len(s.Recent)-maxRecentQueries:]
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Current returns a copy of the current session.
func (t *UsageTracker) Current() *SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copySession(t.current)
}

// History returns persisted sessions that started within [from, to], oldest
// first. Unreadable entries are skipped.
func (t *UsageTracker) History(ctx context.Context, from, to time.Time) ([]*SessionUsage, error) {
	if t.store == nil {
		return nil, nil
	}
	keys, err := t.store.Keys(ctx, UsageKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list usage sessions: %w", err)
	}

	var out []*SessionUsage
	for _, key := range keys {
		started, ok := sessionStart(strings.TrimPrefix(key, UsageKeyPrefix))
		if !ok || started.Before(from) || started.After(to) {
			continue
		}
		raw, found, err := t.store.GetItem(ctx, key)
		if err != nil || !found {
			continue
		}
		var s SessionUsage
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			log.Warnf("skipping unreadable usage session %s: %v", key, err)
			continue
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// sessionStart parses the timestamp in a session ID. IDs carry local time.
func sessionStart(id string) (time.Time, bool) {
	if len(id) < len(sessionIDLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(sessionIDLayout, id[:len(sessionIDLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Trends aggregates persisted sessions plus the current one over the last
// days days.
func (t *UsageTracker) Trends(ctx context.Context, days int) (*UsageTrends, error) {
	to := t.now()
	from := to.AddDate(0, 0, -days)

	sessions, err := t.History(ctx, from, to)
	if err != nil {
		return nil, err
	}
	cur := t.Current()
	seen := false
	for _, s := range sessions {
		if s.ID == cur.ID {
			seen = true
		}
	}
	if !seen && cur.Queries > 0 {
		sessions = append(sessions, cur)
	}

	trends := &UsageTrends{Days: days, ByModel: map[string]TokenCount{}}
	daily := map[string]*DailyUsage{}
	for _, s := range sessions {
		key := s.StartTime.Format("2006-01-02")
		d, ok := daily[key]
		if !ok {
			y, m, dd := s.StartTime.Date()
			d = &DailyUsage{Date: time.Date(y, m, dd, 0, 0, 0, 0, s.StartTime.Location())}
			daily[key] = d
		}
		tokens := s.Tokens()
		d.Tokens.Input += tokens.Input
		d.Tokens.Output += tokens.Output
		d.Queries += s.Queries

		trends.Total.Input += tokens.Input
		trends.Total.Output += tokens.Output
		trends.Queries += s.Queries
		for model, c := range s.ByModel {
			m := trends.ByModel[model]
			m.Input += c.Input
			m.Output += c.Output
			trends.ByModel[model] = m
		}
	}
	for _, d := range daily {
		trends.Daily = append(trends.Daily, *d)
	}
	sort.Slice(trends.Daily, func(i, j int) bool { return trends.Daily[i].Date.Before(trends.Daily[j].Date) })
	return trends, nil
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// Save persists the current session.
func (t *UsageTracker) Save(ctx context.Context) error {
	return t.persist(ctx, t.Current())
}

// EndSession persists the current session with an end time and starts a new
// one. A session with no queries is not persisted.
func (t *UsageTracker) EndSession(ctx context.Context) error {
	t.mu.Lock()
	ended := copySession(t.current)
	ended.EndTime = t.now()
	t.current = t.newSession()
	t.mu.Unlock()

	if ended.Queries == 0 {
		return nil
	}
	return t.persist(ctx, ended)
}

func (t *UsageTracker) persist(ctx context.Context, s *SessionUsage) error {
	if t.store == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode usage session: %w", err)
	}
	if err := t.store.SetItem(ctx, UsageKeyPrefix+s.ID, string(data)); err != nil {
		return fmt.Errorf("save usage session: %w", err)
	}
	return nil
}

// Prune deletes persisted sessions that started before cutoff and returns
// how many were removed.
func (t *UsageTracker) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	keys, err := t.store.Keys(ctx, UsageKeyPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		started, ok := sessionStart(strings.TrimPrefix(key, UsageKeyPrefix))
		if !ok || !started.Before(cutoff) {
			continue
		}
		if err := t.store.RemoveItem(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func copySession(src *SessionUsage) *SessionUsage {
	dst := *src
	dst.ByModel = make(map[string]TokenCount, len(src.ByModel))
	for k, v := range src.ByModel {
		dst.ByModel[k] = v
	}
	dst.BySource = make(map[Source]int, len(src.BySource))
	for k, v := range src.BySource {
		dst.BySource[k] = v
	}
	dst.Recent = append([]QueryUsage(nil), src.Recent...)
	return &dst
}
