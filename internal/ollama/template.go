// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholder matches ${name}$.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}\$`)

// Render replaces every ${name}$ placeholder whose name exists in vars.
// Unknown placeholders are left as they are. Strings are inserted verbatim,
// message lists as "role: content" lines, anything else via fmt's %v.
func Render(tmpl string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "${") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			return m
		}
		return FormatValue(v)
	})
}

// FormatValue renders a variable for insertion into a prompt.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []Message:
		lines := make([]string, 0, len(val))
		for _, m := range val {
			lines = append(lines, m.Role+": "+m.Content)
		}
		return strings.Join(lines, "\n")
	case []string:
		return strings.Join(val, "\n")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
