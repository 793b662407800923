// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jeranaias/rigrun-agent/internal/kv"
)

// =============================================================================
// TRACING
// =============================================================================

func TestSetupDisabledIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupRequiresEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: true})
	assert.Error(t, err)
}

func TestSetupExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Setup(context.Background(), Config{Enabled: true, ServiceName: "test", Exporter: exp})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "agent", "agent.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.run", spans[0].Name)
	assert.Equal(t, "rigrun-agent/agent", spans[0].InstrumentationScope.Name)
}

// =============================================================================
// USAGE
// =============================================================================

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 5, 10, 9, 30, 0, 0, time.Local)}
}

func TestUsageRecord(t *testing.T) {
	c := newClock()
	tr := NewUsageTracker(nil, WithUsageClock(c.Now))

	tr.Record("llama3.2", SourceLocal, 10, 20, time.Second, "first")
	tr.Record("llama3.2", SourceLocal, 5, 5, time.Second, "second")
	tr.Record("gpt-5", SourceRemote, 100, 200, 2*time.Second, strings.Repeat("x", 500))

	s := tr.Current()
	assert.Equal(t, 3, s.Queries)
	assert.Equal(t, TokenCount{Input: 15, Output: 25}, s.ByModel["llama3.2"])
	assert.Equal(t, TokenCount{Input: 115, Output: 225}, s.Tokens())
	assert.Equal(t, 2, s.BySource[SourceLocal])
	assert.Equal(t, 4*time.Second, s.Duration)
	require.Len(t, s.Recent, 3)
	assert.Len(t, []rune(s.Recent[2].Prompt), 100)
	assert.True(t, strings.HasPrefix(s.ID, "20250510-093000-"))

	// Current returns a copy.
	s.ByModel["llama3.2"] = TokenCount{}
	assert.Equal(t, 15, tr.Current().ByModel["llama3.2"].Input)
}

func TestUsageRecentIsBounded(t *testing.T) {
	tr := NewUsageTracker(nil)
	for i := 0; i < 25; i++ {
		tr.Record("m", SourceAgent, 1, 1, 0, "q")
	}
	s := tr.Current()
	assert.Equal(t, 25, s.Queries)
	assert.Len(t, s.Recent, maxRecentQueries)
}

func TestUsagePersistenceAndTrends(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	c := newClock()
	tr := NewUsageTracker(store, WithUsageClock(c.Now))

	tr.Record("llama3.2", SourceLocal, 10, 10, time.Second, "day one")
	require.NoError(t, tr.EndSession(ctx))

	// Empty sessions are not persisted.
	require.NoError(t, tr.EndSession(ctx))
	keys, err := store.Keys(ctx, UsageKeyPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	c.Advance(24 * time.Hour)
	require.NoError(t, tr.EndSession(ctx))
	tr.Record("llama3.2", SourceLocal, 1, 2, time.Second, "day two")
	tr.Record("gpt-5", SourceRemote, 3, 4, time.Second, "day two")
	require.NoError(t, tr.Save(ctx))

	hist, err := tr.History(ctx, c.Now().Add(-72*time.Hour), c.Now())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].StartTime.Before(hist[1].StartTime))
	assert.False(t, hist[0].EndTime.IsZero())

	trends, err := tr.Trends(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, trends.Queries)
	assert.Equal(t, TokenCount{Input: 14, Output: 16}, trends.Total)
	assert.Equal(t, TokenCount{Input: 11, Output: 12}, trends.ByModel["llama3.2"])
	require.Len(t, trends.Daily, 2)
	assert.Equal(t, 1, trends.Daily[0].Queries)
	assert.Equal(t, 2, trends.Daily[1].Queries)

	removed, err := tr.Prune(ctx, c.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	hist, err = tr.History(ctx, c.Now().Add(-72*time.Hour), c.Now())
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestUsageTrendsIncludesUnsavedSession(t *testing.T) {
	tr := NewUsageTracker(kv.NewMemoryStore())
	tr.Record("m", SourceLocal, 2, 3, 0, "q")
	trends, err := tr.Trends(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, trends.Queries)
	assert.Equal(t, 5, trends.Total.Total())
}
