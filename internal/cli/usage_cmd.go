// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// usage_cmd.go - Token usage reports.
//
// Command: usage
// Short:   Token usage by session
//
// Subcommands:
//   trends [--days N] (default)   Daily totals, 7 days by default
//   history [--days N]            Saved sessions in the window
//   prune --days N                Delete sessions older than N days

package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// HandleUsage handles "usage".
func HandleUsage(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)
	days := p.FlagIntOrDefault("days", 7)
	if days <= 0 {
		return NewValidationError("days", fmt.Sprint(days), "must be positive")
	}

	switch p.Subcommand() {
	case "", "trends":
		trends, err := a.Usage.Trends(ctx, days)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "usage", trends); done {
			return err
		}
		fmt.Fprintln(a.Out, TitleStyle.Render(fmt.Sprintf("Usage, last %d days", trends.Days)))
		printField(a.Out, "queries", trends.Queries)
		printField(a.Out, "tokens in/out", fmt.Sprintf("%d / %d", trends.Total.Input, trends.Total.Output))

		peak := 0
		for _, d := range trends.Daily {
			peak = max(peak, d.Tokens.Total())
		}
		fmt.Fprintln(a.Out)
		for _, d := range trends.Daily {
			bar := ""
			if peak > 0 {
				bar = strings.Repeat("█", d.Tokens.Total()*30/peak)
			}
			fmt.Fprintf(a.Out, "%s %s %s\n", d.Date.Format("Mon 01-02"), PadRight(fmt.Sprintf("%6d", d.Tokens.Total()), 8), SuccessStyle.Render(bar))
		}

		models := make([]string, 0, len(trends.ByModel))
		for m := range trends.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		if len(models) > 0 {
			fmt.Fprintln(a.Out, SectionStyle.Render("By model"))
			for _, m := range models {
				c := trends.ByModel[m]
				fmt.Fprintf(a.Out, "  %s %d / %d\n", PadRight(m, 32), c.Input, c.Output)
			}
		}
		return nil

	case "history", "sessions":
		to := time.Now()
		sessions, err := a.Usage.History(ctx, to.AddDate(0, 0, -days), to)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "usage", sessions); done {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(a.Out, "no saved sessions")
			return nil
		}
		for _, s := range sessions {
			t := s.Tokens()
			fmt.Fprintf(a.Out, "%s %s %s\n", PadRight(s.ID, 24),
				PadRight(fmt.Sprintf("%d queries", s.Queries), 12),
				DimStyle.Render(fmt.Sprintf("%d in / %d out", t.Input, t.Output)))
		}
		return nil

	case "prune":
		if !p.HasFlag("days") {
			return usage("rigrun-agent usage prune --days N")
		}
		n, err := a.Usage.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "usage", map[string]int{"pruned": n}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s pruned %d session(s)\n", SuccessStyle.Render("[OK]"), n)
		return nil
	}
	return usage("rigrun-agent usage [trends|history|prune] [--days N]")
}
