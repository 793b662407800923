// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// =============================================================================
// TYPES
// =============================================================================

// Modalities in canonical order.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityPDF   = "pdf"
)

// Source types.
const (
	SourceURL    = "url"
	SourceBase64 = "base64"
)

var (
	modalityOrder   = []string{ModalityText, ModalityImage, ModalityPDF}
	sourceTypeOrder = []string{SourceURL, SourceBase64}

	modalityAliases = map[string]string{"file": ModalityPDF}
)

// KnownProviders are the providers whose model lists survive normalization.
var KnownProviders = []string{"anthropic", "google", "ollama", "openai", "openrouter"}

// Capabilities is what a model accepts as input.
type Capabilities struct {
	// InputModalities is an ordered subset of [text image pdf] that always
	// includes text.
	InputModalities []string `json:"input_modalities"`
	// InputSourceTypes maps a non-text modality to a subset of [url base64].
	InputSourceTypes map[string][]string `json:"input_source_types,omitempty"`
}

// DefaultCapabilities is text only.
func DefaultCapabilities() Capabilities {
	return Capabilities{InputModalities: []string{ModalityText}}
}

// Supports reports whether modality is accepted.
func (c Capabilities) Supports(modality string) bool {
	return slices.Contains(c.InputModalities, modality)
}

// AcceptsSource reports whether modality may be sent as sourceType.
func (c Capabilities) AcceptsSource(modality, sourceType string) bool {
	return slices.Contains(c.InputSourceTypes[modality], sourceType)
}

// Catalog is the canonical model catalog.
type Catalog struct {
	ActiveModel        string                  `json:"active_model,omitempty"`
	ActiveCapabilities Capabilities            `json:"active_capabilities"`
	ModelCapabilities  map[string]Capabilities `json:"model_capabilities"`
	Providers          map[string][]string     `json:"providers"`
}

// Empty returns a catalog with no models.
func Empty() *Catalog {
	return &Catalog{
		ActiveCapabilities: DefaultCapabilities(),
		ModelCapabilities:  map[string]Capabilities{},
		Providers:          map[string][]string{},
	}
}

// CapabilitiesFor returns the capabilities of model. The active model uses
// ActiveCapabilities; unknown models get the text default.
func (c *Catalog) CapabilitiesFor(model string) Capabilities {
	if model != "" && model == c.ActiveModel {
		return c.ActiveCapabilities
	}
	if caps, ok := c.ModelCapabilities[model]; ok {
		return caps
	}
	return DefaultCapabilities()
}

// Models returns every provider's models as "provider:model", sorted.
func (c *Catalog) Models() []string {
	var out []string
	for p, models := range c.Providers {
		for _, m := range models {
			out = append(out, p+":"+m)
		}
	}
	sortFold(out)
	return out
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// NormalizeJSON decodes data and normalizes it. Only malformed JSON fails.
func NormalizeJSON(data []byte) (*Catalog, error) {
	var raw map[string]any
	if err := gateway.DecodeJSON(data, &raw); err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// Normalize builds a Catalog from a raw payload. Unrecognised fields and
// values are dropped; it never fails.
func Normalize(raw map[string]any) *Catalog {
	cat := Empty()
	if raw == nil {
		return cat
	}

	if providers, ok := field(raw, "providers").(map[string]any); ok {
		// Keys differing only in case are one provider; their lists merge.
		merged := make(map[string][]string)
		for name, list := range providers {
			name = strings.ToLower(strings.TrimSpace(name))
			if !slices.Contains(KnownProviders, name) {
				continue
			}
			merged[name] = append(merged[name], modelNames(list)...)
		}
		for name, names := range merged {
			cat.Providers[name] = NormalizeModelList(names)
		}
	}

	if table, ok := field(raw, "model_capabilities", "modelCapabilities").(map[string]any); ok {
		for id, caps := range table {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			cat.ModelCapabilities[id] = NormalizeCapabilities(caps)
		}
	}

	active, _ := field(raw, "active").(map[string]any)
	cat.ActiveModel = resolveActiveModel(raw, active)
	cat.ActiveCapabilities = resolveActiveCapabilities(raw, active, cat)
	return cat
}

// resolveActiveModel takes the first non-empty of: the flat active-model
// field, active.id, then active.provider + ":" + active.model.
func resolveActiveModel(raw, active map[string]any) string {
	if s := str(field(raw, "active_model", "activeModel")); s != "" {
		return s
	}
	if active == nil {
		return ""
	}
	if s := str(active["id"]); s != "" {
		return s
	}
	provider, model := str(active["provider"]), str(active["model"])
	if provider != "" && model != "" {
		return provider + ":" + model
	}
	return ""
}

// resolveActiveCapabilities prefers explicit capabilities on the active
// payload, then the per-model table entry, then the text default.
func resolveActiveCapabilities(raw, active map[string]any, cat *Catalog) Capabilities {
	if active != nil {
		if caps, ok := active["capabilities"]; ok && caps != nil {
			return NormalizeCapabilities(caps)
		}
	}
	// A normalized catalog carries its override at the top level.
	if caps := field(raw, "active_capabilities", "activeCapabilities"); caps != nil {
		return NormalizeCapabilities(caps)
	}
	if caps, ok := cat.ModelCapabilities[cat.ActiveModel]; ok && cat.ActiveModel != "" {
		return caps
	}
	return DefaultCapabilities()
}

// NormalizeModelList trims, drops empties, deduplicates and sorts
// case-insensitively.
func NormalizeModelList(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sortFold(out)
	return out
}

// NormalizeCapabilities accepts a capabilities object in any of the shapes
// providers send and returns the canonical form.
func NormalizeCapabilities(v any) Capabilities {
	m, ok := v.(map[string]any)
	if !ok {
		if c, ok := v.(Capabilities); ok {
			m = map[string]any{"input_modalities": toAny(c.InputModalities), "input_source_types": sourceTypesToAny(c.InputSourceTypes)}
		} else {
			return DefaultCapabilities()
		}
	}

	present := map[string]bool{}
	for _, mod := range stringList(field(m, "input_modalities", "inputModalities", "modalities")) {
		if canon := canonicalModality(mod); canon != "" {
			present[canon] = true
		}
	}

	caps := Capabilities{}
	if len(present) > 0 {
		present[ModalityText] = true
	}
	for _, mod := range modalityOrder {
		if present[mod] {
			caps.InputModalities = append(caps.InputModalities, mod)
		}
	}
	if len(caps.InputModalities) == 0 {
		caps.InputModalities = []string{ModalityText}
	}

	if src, ok := field(m, "input_source_types", "inputSourceTypes", "source_types").(map[string]any); ok {
		union := map[string]map[string]bool{}
		for key, vals := range src {
			mod := canonicalModality(key)
			if mod == "" || mod == ModalityText {
				continue
			}
			for _, st := range stringList(vals) {
				st = strings.ToLower(strings.TrimSpace(st))
				if st != SourceURL && st != SourceBase64 {
					continue
				}
				if union[mod] == nil {
					union[mod] = map[string]bool{}
				}
				union[mod][st] = true
			}
		}
		for _, mod := range modalityOrder {
			set := union[mod]
			if len(set) == 0 {
				continue
			}
			if caps.InputSourceTypes == nil {
				caps.InputSourceTypes = map[string][]string{}
			}
			for _, st := range sourceTypeOrder {
				if set[st] {
					caps.InputSourceTypes[mod] = append(caps.InputSourceTypes[mod], st)
				}
			}
		}
	}
	return caps
}

func canonicalModality(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := modalityAliases[s]; ok {
		s = alias
	}
	if slices.Contains(modalityOrder, s) {
		return s
	}
	return ""
}

// =============================================================================
// HELPERS
// =============================================================================

var folder = cases.Fold()

// sortFold sorts case-insensitively, breaking ties by byte order so the
// result is deterministic.
func sortFold(s []string) {
	sort.SliceStable(s, func(i, j int) bool {
		fi, fj := folder.String(s[i]), folder.String(s[j])
		if fi != fj {
			return fi < fj
		}
		return s[i] < s[j]
	})
}

// field returns the first present key.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// stringList returns the string elements of a []any or []string.
func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vals}
	}
	return nil
}

// modelNames accepts ["a", "b"] or [{"id": "a"}, {"name": "b"}].
func modelNames(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return stringList(v)
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		switch e := x.(type) {
		case string:
			out = append(out, e)
		case map[string]any:
			if s := str(field(e, "id", "name", "model")); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func sourceTypesToAny(m map[string][]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = toAny(v)
	}
	return out
}

// MarshalJSON is the standard encoding; it exists so a nil map encodes as {}
// and the output is accepted by NormalizeJSON unchanged.
func (c Catalog) MarshalJSON() ([]byte, error) {
	type plain Catalog
	p := plain(c)
	if p.ModelCapabilities == nil {
		p.ModelCapabilities = map[string]Capabilities{}
	}
	if p.Providers == nil {
		p.Providers = map[string][]string{}
	}
	if p.ActiveCapabilities.InputModalities == nil {
		p.ActiveCapabilities = DefaultCapabilities()
	}
	return json.Marshal(p)
}
