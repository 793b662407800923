// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// remote_cmd.go - Calls to the configured bridge.
//
// Command: remote
// Short:   Talk to the configured bridge
//
// Subcommands:
//   status (default)             Bridge health
//   restart                      Restart the bridge process
//   toolkit                      Toolkit catalog
//   search QUERY [--limit N]     Search the document library
//   pick [--title TEXT]          Ask the bridge to show a directory picker
//   validate PATH                Check a workspace root

package cli

import (
	"context"
	"fmt"
	"time"
)

// HandleRemote handles "remote".
func HandleRemote(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)
	r := a.Remote

	switch p.Subcommand() {
	case "", "status":
		st, err := r.Status(ctx)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", st); done {
			return err
		}
		printField(a.Out, "bridge", r.Bridge())
		printField(a.Out, "running", statusWord(st.Running, "yes", "no"))
		if st.Version != "" {
			printField(a.Out, "version", st.Version)
		}
		if st.Uptime > 0 {
			printField(a.Out, "uptime", formatDuration(time.Duration(st.Uptime*float64(time.Second))))
		}
		return nil

	case "restart":
		if err := r.Restart(ctx); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", map[string]bool{"restarted": true}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s bridge %s restarted\n", SuccessStyle.Render("[OK]"), r.Bridge())
		return nil

	case "toolkit", "tools":
		entries, err := r.ToolkitCatalog(ctx)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", entries); done {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(a.Out, "%s%s\n", PadRight(e.ID, 28), DimStyle.Render(e.Description))
		}
		return nil

	case "search":
		query := JoinPositionalArgs(p, 1)
		if query == "" {
			return usage("rigrun-agent remote search <query> [--limit N]")
		}
		items, err := r.SearchLibrary(ctx, query, p.FlagIntOrDefault("limit", 10))
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", items); done {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(a.Out, "no results")
		}
		for _, it := range items {
			fmt.Fprintf(a.Out, "%s %s\n", TitleStyle.Render(it.Title), DimStyle.Render(fmt.Sprintf("%.2f", it.Score)))
			if it.Path != "" {
				fmt.Fprintln(a.Out, "  "+it.Path)
			}
			if it.Snippet != "" {
				fmt.Fprintln(a.Out, "  "+Truncate(it.Snippet, GetTerminalWidth()-4))
			}
		}
		return nil

	case "pick":
		path, ok, err := r.PickDirectory(ctx, p.FlagOrDefault("title", "Choose a directory"))
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", map[string]any{"path": path, "selected": ok}); done {
			return err
		}
		if !ok {
			fmt.Fprintln(a.Out, "no directory selected")
			return nil
		}
		fmt.Fprintln(a.Out, path)
		return nil

	case "validate":
		path := p.Positional(1)
		if path == "" {
			return usage("rigrun-agent remote validate <path>")
		}
		v, err := r.ValidateWorkspaceRoot(ctx, path)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "remote", v); done {
			return err
		}
		if v.Valid {
			fmt.Fprintf(a.Out, "%s %s\n", SuccessStyle.Render("[OK]"), v.Path)
			return nil
		}
		return NewValidationError("workspace root", path, orDefault(v.Reason, "rejected by bridge"))
	}
	return usage("rigrun-agent remote [status|restart|toolkit|search|pick|validate]")
}
