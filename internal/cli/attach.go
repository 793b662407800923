// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// attach.go - The attachment cache.
//
// Command: attach
// Short:   Manage cached attachments
//
// Subcommands:
//   add PATH|URL [--id ID] [--name NAME]   Cache a file or URL, print its id
//   list (default)                         Cached attachments, oldest first
//   show ID                                Metadata of one attachment
//   rm ID                                  Delete one attachment
//   clear [--yes]                          Delete every attachment
//
// Attachments expire after attachments.ttl_hours.

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/attachments"
)

// HandleAttach handles "attach".
func HandleAttach(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y")

	switch p.Subcommand() {
	case "add":
		return attachAdd(ctx, a, p)
	case "", "list", "ls":
		return attachList(ctx, a)
	case "show":
		id := p.Positional(1)
		if id == "" {
			return usage("rigrun-agent attach show <id>")
		}
		e := a.Attachments.LoadEntry(ctx, id)
		if e == nil {
			return NewNotFoundError("attachment", id)
		}
		info := attachmentView{
			ID:        e.ID,
			Name:      e.Name,
			Type:      e.Payload.Type,
			Source:    e.Payload.Source.Type,
			MediaType: e.Payload.Source.MediaType,
			URL:       e.Payload.Source.URL,
			SizeBytes: attachments.SizeOf(e.Payload),
			CreatedAt: e.Created(),
			ExpiresAt: e.Created().Add(a.Attachments.TTL()),
		}
		if done, err := OutputJSON(a.Out, a.JSON, "attach", info); done {
			return err
		}
		printField(a.Out, "id", info.ID)
		printField(a.Out, "name", orDefault(info.Name, "-"))
		printField(a.Out, "type", info.Type+" ("+info.Source+")")
		if info.MediaType != "" {
			printField(a.Out, "media type", info.MediaType)
		}
		if info.URL != "" {
			printField(a.Out, "url", info.URL)
		}
		printField(a.Out, "size", formatBytes(info.SizeBytes))
		printField(a.Out, "created", info.CreatedAt.Format(time.RFC3339))
		printField(a.Out, "expires", info.ExpiresAt.Format(time.RFC3339))
		return nil
	case "rm", "delete", "remove":
		id := p.Positional(1)
		if id == "" {
			return usage("rigrun-agent attach rm <id>")
		}
		if a.Attachments.LoadEntry(ctx, id) == nil {
			return NewNotFoundError("attachment", id)
		}
		a.Files.Delete(ctx, id)
		a.Attachments.Wait()
		if done, err := OutputJSON(a.Out, a.JSON, "attach", map[string]string{"deleted": id}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s deleted %s\n", SuccessStyle.Render("[OK]"), id)
		return nil
	case "clear":
		if !p.BoolFlag("yes", "y") {
			return NewValidationErrorWithExample("clear", "", "refusing to delete every attachment without --yes", "rigrun-agent attach clear --yes")
		}
		a.Files.ClearAll(ctx)
		a.Attachments.Wait()
		if done, err := OutputJSON(a.Out, a.JSON, "attach", map[string]bool{"cleared": true}); done {
			return err
		}
		fmt.Fprintln(a.Out, SuccessStyle.Render("[OK]")+" attachments cleared")
		return nil
	}
	return usage("rigrun-agent attach [add|list|show|rm|clear]")
}

// attachmentView is the JSON shape of "attach show".
type attachmentView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	MediaType string    `json:"mediaType,omitempty"`
	URL       string    `json:"url,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func attachAdd(ctx context.Context, a *App, p *ArgParser) error {
	target := p.Positional(1)
	if target == "" {
		return usage("rigrun-agent attach add <path|url> [--id ID] [--name NAME]")
	}

	var payload attachments.Payload
	name := p.Flag("name")
	if isURL(target) {
		payload = payloadFromURL(target)
	} else {
		var err error
		payload, err = payloadFromFile(target)
		if err != nil {
			return NewCommandError("attach", "add", target, err)
		}
		if name == "" {
			name = filepath.Base(target)
		}
	}

	id := a.Files.Save(ctx, p.Flag("id"), payload, name)
	a.Attachments.Wait()

	if done, err := OutputJSON(a.Out, a.JSON, "attach", map[string]any{
		"id":        id,
		"name":      name,
		"sizeBytes": attachments.SizeOf(payload),
	}); done {
		return err
	}
	if a.Quiet {
		fmt.Fprintln(a.Out, id)
		return nil
	}
	fmt.Fprintf(a.Out, "%s %s %s\n", SuccessStyle.Render("[OK]"), id, DimStyle.Render(fmt.Sprintf("(%s, %s)", name, formatBytes(attachments.SizeOf(payload)))))
	return nil
}

func attachList(ctx context.Context, a *App) error {
	list := a.Attachments.List(ctx)
	if done, err := OutputJSON(a.Out, a.JSON, "attach", list); done {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.Out, "no attachments")
		return nil
	}
	now := time.Now()
	fmt.Fprintln(a.Out, DimStyle.Render(PadRight("ID", 38)+PadRight("NAME", 24)+PadRight("SIZE", 12)+"CREATED"))
	for _, info := range list {
		fmt.Fprintf(a.Out, "%s%s%s%s\n",
			PadRight(info.ID, 38), PadRight(Truncate(orDefault(info.Name, "-"), 22), 24),
			PadRight(formatBytes(info.SizeBytes), 12), formatAge(now, info.CreatedAt))
	}
	return nil
}
