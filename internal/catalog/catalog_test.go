// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

// =============================================================================
// MODEL LISTS
// =============================================================================

func TestNormalizeModelList(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"gpt-5", "  gpt-5-codex  ", "gpt-5"}, []string{"gpt-5", "gpt-5-codex"}},
		{[]string{"b", "", "  ", "A", "a"}, []string{"A", "a", "b"}},
		{[]string{"Zeta", "alpha", "Beta"}, []string{"alpha", "Beta", "Zeta"}},
		{nil, []string{}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeModelList(tc.in), "input %q", tc.in)
	}
}

func TestNormalize_Providers(t *testing.T) {
	cat := Normalize(decode(t, `{
		"providers": {
			"openai": ["gpt-5", "  gpt-5-codex  ", "gpt-5"],
			"Anthropic": [{"id": "claude-sonnet"}, {"name": "claude-haiku"}, 42],
			"mystery": ["x"]
		}
	}`))

	assert.Equal(t, map[string][]string{
		"openai":    {"gpt-5", "gpt-5-codex"},
		"anthropic": {"claude-haiku", "claude-sonnet"},
	}, cat.Providers)
	assert.Equal(t, []string{"anthropic:claude-haiku", "anthropic:claude-sonnet", "openai:gpt-5", "openai:gpt-5-codex"}, cat.Models())
}

func TestNormalize_ProviderKeysMergeAcrossCase(t *testing.T) {
	for i := 0; i < 20; i++ {
		cat := Normalize(decode(t, `{
			"providers": {
				"OpenAI": ["gpt-5", "o3"],
				"openai": ["gpt-5-mini", "gpt-5"],
				" OPENAI ": []
			}
		}`))
		assert.Equal(t, []string{"gpt-5", "gpt-5-mini", "o3"}, cat.Providers["openai"])
	}
}

// =============================================================================
// CAPABILITIES
// =============================================================================

func TestNormalizeCapabilities_Modalities(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"file alias", `{"input_modalities":["file"]}`, []string{"text", "pdf"}},
		{"ordering", `{"input_modalities":["PDF","image","text"]}`, []string{"text", "image", "pdf"}},
		{"unknown dropped", `{"input_modalities":["audio","video"]}`, []string{"text"}},
		{"empty", `{}`, []string{"text"}},
		{"camel case", `{"inputModalities":["image"]}`, []string{"text", "image"}},
		{"duplicates", `{"input_modalities":["image","IMAGE","file","pdf"]}`, []string{"text", "image", "pdf"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeCapabilities(decode(t, tc.in))
			assert.Equal(t, tc.want, got.InputModalities)
		})
	}

	assert.Equal(t, []string{"text"}, NormalizeCapabilities("garbage").InputModalities)
}

func TestNormalizeCapabilities_SourceTypes(t *testing.T) {
	got := NormalizeCapabilities(decode(t, `{
		"input_modalities": ["text", "image", "file"],
		"input_source_types": {
			"text":  ["url"],
			"image": ["base64", "ftp"],
			"file":  ["base64"],
			"pdf":   ["url"],
			"audio": ["url"]
		}
	}`))

	assert.Equal(t, map[string][]string{
		"image": {"base64"},
		"pdf":   {"url", "base64"},
	}, got.InputSourceTypes)
	assert.True(t, got.Supports("pdf"))
	assert.True(t, got.AcceptsSource("pdf", "url"))
	assert.False(t, got.AcceptsSource("image", "url"))
}

// =============================================================================
// ACTIVE MODEL
// =============================================================================

func TestResolveActiveModel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"flat wins", `{"active_model":"openai:gpt-5","active":{"id":"anthropic:claude"}}`, "openai:gpt-5"},
		{"structured id", `{"active_model":"  ","active":{"id":"anthropic:claude","provider":"openai","model":"x"}}`, "anthropic:claude"},
		{"composed", `{"active":{"provider":"openai","model":"gpt-5"}}`, "openai:gpt-5"},
		{"half composed", `{"active":{"provider":"openai"}}`, ""},
		{"none", `{}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(decode(t, tc.in)).ActiveModel)
		})
	}
}

func TestActiveCapabilities_OverrideBeatsTable(t *testing.T) {
	cat := Normalize(decode(t, `{
		"active": {"id": "openai:gpt-5", "capabilities": {"input_modalities": ["text", "image"]}},
		"model_capabilities": {"openai:gpt-5": {"input_modalities": ["text", "file"]}}
	}`))

	assert.Equal(t, []string{"text", "image"}, cat.ActiveCapabilities.InputModalities)
	assert.Equal(t, []string{"text", "pdf"}, cat.ModelCapabilities["openai:gpt-5"].InputModalities)
	assert.Equal(t, cat.ActiveCapabilities, cat.CapabilitiesFor("openai:gpt-5"))
}

func TestActiveCapabilities_Fallbacks(t *testing.T) {
	cat := Normalize(decode(t, `{
		"active_model": "openai:gpt-5",
		"model_capabilities": {"openai:gpt-5": {"input_modalities": ["image"]}}
	}`))
	assert.Equal(t, []string{"text", "image"}, cat.ActiveCapabilities.InputModalities)

	cat = Normalize(decode(t, `{"active_model": "openai:unknown"}`))
	assert.Equal(t, DefaultCapabilities(), cat.ActiveCapabilities)
	assert.Equal(t, DefaultCapabilities(), cat.CapabilitiesFor("nope"))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestNormalize_Idempotent(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"providers":{"openai":["b","A"," a "]},"active":{"provider":"openai","model":"b"}}`,
		`{
			"active": {"id": "openai:gpt-5", "capabilities": {"input_modalities": ["file"], "input_source_types": {"file": ["url"], "pdf": ["base64"]}}},
			"model_capabilities": {"openai:gpt-5": {"input_modalities": ["image"]}, " ": {}},
			"providers": {"openai": ["gpt-5", "gpt-5"], "ollama": [{"name": "llama3.2"}]}
		}`,
	}
	for _, p := range payloads {
		first := Normalize(decode(t, p))

		data, err := json.Marshal(first)
		require.NoError(t, err)
		second, err := NormalizeJSON(data)
		require.NoError(t, err)

		assert.Equal(t, first, second, "payload %s", p)
	}
}

func TestNormalizeJSON_Invalid(t *testing.T) {
	_, err := NormalizeJSON([]byte(`{"providers":`))
	assert.Equal(t, gateway.CodeInvalidJSON, gateway.CodeOf(err))
}

// =============================================================================
// HOLDER
// =============================================================================

func TestHolder(t *testing.T) {
	h := NewHolder()
	require.NotNil(t, h.Load())
	assert.Empty(t, h.Load().Providers)

	old := h.Load()
	h.Update(map[string]any{"providers": map[string]any{"openai": []any{"gpt-5"}}})
	assert.Equal(t, []string{"gpt-5"}, h.Load().Providers["openai"])
	assert.Empty(t, old.Providers, "previous catalog must not be mutated")

	h.Store(nil)
	assert.NotNil(t, h.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); h.Store(FromLocalModels([]string{"a"}, "")) }()
		go func() { defer wg.Done(); _ = h.Load().Providers }()
	}
	wg.Wait()
}

func TestFromLocalModels(t *testing.T) {
	cat := FromLocalModels([]string{"qwen2.5:7b", "llama3.2:latest", "qwen2.5:7b"}, "ollama:llama3.2:latest")
	assert.Equal(t, []string{"llama3.2:latest", "qwen2.5:7b"}, cat.Providers["ollama"])
	assert.Equal(t, "ollama:llama3.2:latest", cat.ActiveModel)
}
