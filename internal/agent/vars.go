// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"maps"

	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// Vars is the variable bag threaded through a run. Values are strings,
// []ollama.Message, []string (images), or anything a handler produces.
type Vars map[string]any

// Clone returns a shallow copy.
func (v Vars) Clone() Vars {
	out := make(Vars, len(v))
	maps.Copy(out, v)
	return out
}

// Merge copies every entry of other into v.
func (v Vars) Merge(other Vars) {
	maps.Copy(v, other)
}

// String returns name rendered as text.
func (v Vars) String(name string) string {
	if name == "" {
		return ""
	}
	return ollama.FormatValue(v[name])
}

// Messages returns name as a message list. A plain string becomes one user
// message; decoded JSON objects with role and content are accepted too.
func (v Vars) Messages(name string) []ollama.Message {
	switch val := v[name].(type) {
	case []ollama.Message:
		return val
	case string:
		if val == "" {
			return nil
		}
		return []ollama.Message{ollama.NewUserMessage(val)}
	case []any:
		out := make([]ollama.Message, 0, len(val))
		for _, x := range val {
			m, ok := x.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" {
				role = "user"
			}
			out = append(out, ollama.Message{Role: role, Content: content})
		}
		return out
	}
	return nil
}

// Strings returns name as a string list. A single string becomes a list of
// one.
func (v Vars) Strings(name string) []string {
	switch val := v[name].(type) {
	case []string:
		return val
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, x := range val {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
