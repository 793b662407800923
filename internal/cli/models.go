// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Local models and the model catalog.
//
// Command: models
// Short:   Inspect local models and the remote catalog
//
// Subcommands:
//   list (default)        Models installed in the local server
//   rm NAME               Delete a local model
//   use NAME              Make NAME the active model
//   catalog               Models from the bridge, or local models when no
//                         bridge answers, with their input capabilities

package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/catalog"
	"github.com/jeranaias/rigrun-agent/internal/settings"
)

// HandleModels handles "models".
func HandleModels(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y")

	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		return modelsList(ctx, a)
	case "rm", "delete", "remove":
		name := p.Positional(1)
		if name == "" {
			return usage("rigrun-agent models rm <name>")
		}
		if err := a.Ollama.DeleteModel(ctx, name); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "models", map[string]string{"deleted": name}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s deleted %s\n", SuccessStyle.Render("[OK]"), name)
		return nil
	case "use":
		name := p.Positional(1)
		if name == "" {
			return usage("rigrun-agent models use <name>")
		}
		if err := a.Settings.Update(ctx, func(s *settings.Settings) { s.ActiveModel = name }); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "models", map[string]string{"active": name}); done {
			return err
		}
		fmt.Fprintf(a.Out, "active model: %s\n", name)
		return nil
	case "catalog":
		return modelsCatalog(ctx, a)
	default:
		return usage("rigrun-agent models [list|rm|use|catalog]")
	}
}

func modelsList(ctx context.Context, a *App) error {
	models, err := a.Ollama.ListModels(ctx)
	if err != nil {
		return err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	if done, err := OutputJSON(a.Out, a.JSON, "models", models); done {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(a.Out, "no local models; try: rigrun-agent pull "+a.Config.Local.DefaultModel)
		return nil
	}

	active := a.Model(ctx, "")
	now := time.Now()
	fmt.Fprintln(a.Out, DimStyle.Render(PadRight("NAME", 32)+PadRight("SIZE", 12)+PadRight("FAMILY", 12)+"MODIFIED"))
	for _, m := range models {
		name := Truncate(m.Name, 30)
		if m.Name == active {
			name = SuccessStyle.Render(PadRight(name, 30))
		} else {
			name = PadRight(name, 30)
		}
		fmt.Fprintf(a.Out, "%s  %s%s%s\n", name,
			PadRight(m.FormatSize(), 12), PadRight(m.Details.Family, 12), formatAge(now, m.ModifiedAt))
	}
	return nil
}

// modelsCatalog prefers the bridge catalog and falls back to the local
// model list.
func modelsCatalog(ctx context.Context, a *App) error {
	cat, err := a.Remote.Catalog(ctx)
	source := "bridge"
	if err != nil {
		log.Debugf("remote catalog unavailable: %v", err)
		names, lerr := a.Ollama.ModelNames(ctx)
		if lerr != nil {
			return fmt.Errorf("no catalog: bridge: %v; local: %w", err, lerr)
		}
		cat = catalog.FromLocalModels(names, a.Model(ctx, ""))
		a.Catalogs.Store(cat)
		source = "local"
	}

	if done, err := OutputJSON(a.Out, a.JSON, "models", cat); done {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("Model catalog")+DimStyle.Render(" ("+source+")"))
	if cat.ActiveModel != "" {
		printField(a.Out, "active", cat.ActiveModel)
	}
	for _, m := range cat.Models() {
		_, model, _ := strings.Cut(m, ":")
		caps := cat.CapabilitiesFor(model)
		fmt.Fprintf(a.Out, "  %s %s\n", PadRight(m, 40), DimStyle.Render(strings.Join(caps.InputModalities, ",")))
	}
	return nil
}
