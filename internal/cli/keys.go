// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// keys.go - Provider API keys kept in the settings store.
//
// Command: keys
// Short:   Manage provider API keys
//
// Subcommands:
//   list (default)          Providers with a key and the key fingerprint
//   set PROVIDER [KEY|-]    Store a key; "-" or no key reads stdin
//   rm PROVIDER             Remove a key
//
// Keys are never printed, only their fingerprints.

package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/settings"
)

// keyView is one row of "keys list".
type keyView struct {
	Provider    string `json:"provider"`
	Fingerprint string `json:"fingerprint"`
	BaseURL     string `json:"baseUrl,omitempty"`
}

// HandleKeys handles "keys".
func HandleKeys(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)

	switch p.Subcommand() {
	case "", "list", "ls":
		s, err := a.Settings.Load(ctx)
		if err != nil {
			return err
		}
		rows := make([]keyView, 0, len(s.Providers))
		for name, ps := range s.Providers {
			if ps.APIKey == "" {
				continue
			}
			rows = append(rows, keyView{Provider: name, Fingerprint: settings.Fingerprint(ps.APIKey), BaseURL: ps.BaseURL})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Provider < rows[j].Provider })

		if done, err := OutputJSON(a.Out, a.JSON, "keys", rows); done {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(a.Out, "no API keys stored")
			return nil
		}
		for _, r := range rows {
			fmt.Fprintf(a.Out, "%s%s\n", PadRight(r.Provider, 16), DimStyle.Render(r.Fingerprint))
		}
		return nil

	case "set", "add":
		provider := p.Positional(1)
		if provider == "" {
			return usage("rigrun-agent keys set <provider> [key|-]")
		}
		key := p.Positional(2)
		if key == "" {
			key = "-"
		}
		key, err := readInput(a.In, key)
		if err != nil {
			return err
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return NewValidationError("key", "", "must not be empty")
		}
		if err := a.Settings.SetAPIKey(ctx, provider, key); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "keys", keyView{Provider: provider, Fingerprint: settings.Fingerprint(key)}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s stored key for %s %s\n", SuccessStyle.Render("[OK]"), provider, DimStyle.Render(settings.Fingerprint(key)))
		return nil

	case "rm", "delete", "remove":
		provider := p.Positional(1)
		if provider == "" {
			return usage("rigrun-agent keys rm <provider>")
		}
		if _, ok, err := a.Settings.APIKey(ctx, provider); err != nil {
			return err
		} else if !ok {
			return NewNotFoundError("API key", provider)
		}
		if err := a.Settings.SetAPIKey(ctx, provider, ""); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "keys", map[string]string{"removed": provider}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s removed key for %s\n", SuccessStyle.Render("[OK]"), provider)
		return nil
	}
	return usage("rigrun-agent keys [list|set|rm]")
}
