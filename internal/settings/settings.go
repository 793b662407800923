// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-agent/internal/kv"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var log = logging.Named("settings")

// StoreKey is where the settings object lives in the store.
const StoreKey = "settings"

// ProviderSettings holds per-provider values.
type ProviderSettings struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// Settings is the persisted settings object. Unknown top-level fields are
// preserved across Load/Save.
type Settings struct {
	Providers   map[string]ProviderSettings `json:"providers"`
	ActiveModel string                      `json:"active_model,omitempty"`

	extra map[string]json.RawMessage
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "providers")
	delete(all, "active_model")
	*s = Settings(p)
	s.extra = all
	return nil
}

func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.extra)+2)
	for k, v := range s.extra {
		out[k] = v
	}
	providers := s.Providers
	if providers == nil {
		providers = map[string]ProviderSettings{}
	}
	out["providers"] = providers
	if s.ActiveModel != "" {
		out["active_model"] = s.ActiveModel
	}
	return json.Marshal(out)
}

// Manager loads and saves Settings.
type Manager struct {
	store kv.Store
	mu    sync.Mutex // serializes read-modify-write
}

// NewManager returns a manager over store.
func NewManager(store kv.Store) *Manager {
	return &Manager{store: store}
}

// Load returns the stored settings, or empty settings if none exist.
func (m *Manager) Load(ctx context.Context) (*Settings, error) {
	raw, ok, err := m.store.GetItem(ctx, StoreKey)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	s := &Settings{Providers: map[string]ProviderSettings{}}
	if !ok {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	if s.Providers == nil {
		s.Providers = map[string]ProviderSettings{}
	}
	return s, nil
}

// Save replaces the stored settings.
func (m *Manager) Save(ctx context.Context, s *Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := m.store.SetItem(ctx, StoreKey, string(data)); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Update applies fn to the current settings and saves the result.
func (m *Manager) Update(ctx context.Context, fn func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.Load(ctx)
	if err != nil {
		return err
	}
	fn(s)
	return m.Save(ctx, s)
}

// APIKey returns the key configured for provider.
func (m *Manager) APIKey(ctx context.Context, provider string) (string, bool, error) {
	s, err := m.Load(ctx)
	if err != nil {
		return "", false, err
	}
	p, ok := s.Providers[normalizeProvider(provider)]
	if !ok || p.APIKey == "" {
		return "", false, nil
	}
	return p.APIKey, true, nil
}

// SetAPIKey stores key for provider. An empty key removes it.
func (m *Manager) SetAPIKey(ctx context.Context, provider, key string) error {
	provider = normalizeProvider(provider)
	if provider == "" {
		return fmt.Errorf("settings: provider is required")
	}
	return m.Update(ctx, func(s *Settings) {
		p := s.Providers[provider]
		p.APIKey = strings.TrimSpace(key)
		if p == (ProviderSettings{}) {
			delete(s.Providers, provider)
			return
		}
		s.Providers[provider] = p
	})
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// Fingerprint returns a short SHA-256 fingerprint of key, safe to log.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

// =============================================================================
// KEY INJECTION
// =============================================================================

// KeyedPayload is an outgoing request that may carry a provider API key.
type KeyedPayload interface {
	// ProviderName returns the explicitly selected provider, or "".
	ProviderName() string
	HasAPIKey() bool
	SetAPIKey(key string)
}

// InjectProviderKey fills in the stored API key for the payload's provider.
// It does nothing when the payload has no provider (it never guesses), when
// it already carries a key, or when no key is stored. It reports whether a
// key was injected.
func (m *Manager) InjectProviderKey(ctx context.Context, p KeyedPayload) (bool, error) {
	provider := normalizeProvider(p.ProviderName())
	if provider == "" || p.HasAPIKey() {
		return false, nil
	}
	key, ok, err := m.APIKey(ctx, provider)
	if err != nil || !ok {
		return false, err
	}
	p.SetAPIKey(key)
	log.Debugf("injected %s key %s", provider, Fingerprint(key))
	return true, nil
}
