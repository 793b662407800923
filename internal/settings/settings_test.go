// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/kv"
)

type payload struct {
	provider string
	key      string
}

func (p *payload) ProviderName() string { return p.provider }
func (p *payload) HasAPIKey() bool      { return p.key != "" }
func (p *payload) SetAPIKey(k string)   { p.key = k }

func TestManager_LoadEmpty(t *testing.T) {
	m := NewManager(kv.NewMemoryStore())
	s, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s.Providers)
	assert.Empty(t, s.Providers)
}

func TestManager_APIKeys(t *testing.T) {
	ctx := context.Background()
	m := NewManager(kv.NewMemoryStore())

	require.NoError(t, m.SetAPIKey(ctx, " OpenAI ", "sk-test"))
	key, ok, err := m.APIKey(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-test", key)

	require.NoError(t, m.SetAPIKey(ctx, "openai", ""))
	_, ok, err = m.APIKey(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, m.SetAPIKey(ctx, "", "x"))
}

func TestManager_PreservesUnknownFields(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.SetItem(ctx, StoreKey, `{"theme":"dark","providers":{"anthropic":{"api_key":"a"}}}`))

	m := NewManager(store)
	require.NoError(t, m.SetAPIKey(ctx, "openai", "o"))

	raw, _, _ := store.GetItem(ctx, StoreKey)
	assert.JSONEq(t, `{"theme":"dark","providers":{"anthropic":{"api_key":"a"},"openai":{"api_key":"o"}}}`, raw)
}

func TestManager_CorruptSettings(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.SetItem(ctx, StoreKey, `{oops`))
	_, err := NewManager(store).Load(ctx)
	assert.Error(t, err)
}

func TestInjectProviderKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(kv.NewMemoryStore())
	require.NoError(t, m.SetAPIKey(ctx, "openai", "sk-stored"))

	tests := []struct {
		name     string
		p        payload
		injected bool
		wantKey  string
	}{
		{"fills missing key", payload{provider: "openai"}, true, "sk-stored"},
		{"never overwrites", payload{provider: "openai", key: "sk-caller"}, false, "sk-caller"},
		{"no provider no guess", payload{}, false, ""},
		{"no stored key", payload{provider: "anthropic"}, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.p
			injected, err := m.InjectProviderKey(ctx, &p)
			require.NoError(t, err)
			assert.Equal(t, tc.injected, injected)
			assert.Equal(t, tc.wantKey, p.key)

			// Idempotent.
			again, err := m.InjectProviderKey(ctx, &p)
			require.NoError(t, err)
			assert.False(t, again)
			assert.Equal(t, tc.wantKey, p.key)
		})
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(""))
	fp := Fingerprint("sk-secret")
	assert.Len(t, fp, 12)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("sk-secret"))
}
