// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions.
//
// Command: ask
// Short:   Ask a single question and print the answer
//
// Examples:
//   rigrun-agent ask "What is a goroutine?"
//   rigrun-agent ask --file main.go "Review this code"
//   rigrun-agent ask --image diagram.png "What does this show?"
//   rigrun-agent ask --provider anthropic -m claude-sonnet "Summarise RFC 9110"
//   git diff | rigrun-agent ask - --system "Write a commit message"
//
// Flags:
//   -p, --provider NAME   Send to a remote provider through the bridge
//   -s, --system TEXT     System prompt
//   -f, --file PATH       Append a file's contents to the question
//   -i, --image PATH      Attach an image (repeatable); uses the vision model
//   --attachment ID       Attach a cached attachment (repeatable)
//   --render              Render the answer as markdown instead of streaming

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// HandleAsk handles "ask".
func HandleAsk(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw, "render")

	question, err := readInput(a.In, JoinPositionalArgs(p, 0))
	if err != nil {
		return err
	}
	if path := p.Flag("file", "f"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return NewCommandError("ask", "read", path, err)
		}
		question = fmt.Sprintf("%s\n\n```\n%s\n```", question, strings.TrimRight(string(data), "\n"))
	}
	if strings.TrimSpace(question) == "" {
		return usage(`rigrun-agent ask [flags] "question"`)
	}

	images, err := a.collectImages(ctx, append(p.Flags("image"), p.Flags("i")...), p.Flags("attachment"))
	if err != nil {
		return err
	}

	t := turn{
		Provider: p.Flag("provider", "p"),
		Model:    args.Model,
		System:   p.Flag("system", "s"),
		Messages: []ollama.Message{ollama.NewUserMessage(question)},
		Images:   images,
	}
	if t.Model == "" && len(images) == 0 && t.local() {
		t.Model = a.Model(ctx, "")
	}

	tok := cancel.New(ctx)
	defer tok.Cancel()

	stream := !a.JSON && !p.BoolFlag("render")
	r, err := a.complete(ctx, t, tok, func(delta string) {
		if stream {
			fmt.Fprint(a.Out, delta)
		}
	})
	if err != nil {
		return err
	}

	if a.JSON {
		data := AskData{
			Model:      r.Model,
			Provider:   r.Provider,
			Response:   r.Text,
			State:      string(r.State),
			DurationMs: r.Duration.Milliseconds(),
			Tokens:     r.OutTokens,
		}
		if r.Duration > 0 && r.OutTokens > 0 {
			data.TokensPerS = float64(r.OutTokens) / r.Duration.Seconds()
		}
		if err := NewJSONResponse("ask", data).Print(a.Out); err != nil {
			return err
		}
	} else if stream {
		fmt.Fprintln(a.Out)
	} else {
		displayResponse(a.Out, a.TTY, r.Text)
	}

	if r.State == ollama.StateCancelled {
		return gateway.New(gateway.CodeRequestCancelled, "cancelled")
	}
	if !a.Quiet && !a.JSON && a.TTY {
		fmt.Fprintln(a.Err, DimStyle.Render(turnSummary(r)))
	}
	return nil
}

// collectImages loads --image files and cached attachments as base64 image
// data. Non-image attachments are rejected.
func (a *App) collectImages(ctx context.Context, paths, ids []string) ([]string, error) {
	var images []string
	for _, path := range paths {
		payload, err := payloadFromFile(path)
		if err != nil {
			return nil, NewCommandError("ask", "read image", path, err)
		}
		data := imageData(&payload)
		if data == "" {
			return nil, NewValidationError("image", path, "not an image file")
		}
		images = append(images, data)
	}
	for _, id := range ids {
		payload := a.Files.Load(ctx, id)
		if payload == nil {
			return nil, NewNotFoundError("attachment", id)
		}
		data := imageData(payload)
		if data == "" {
			return nil, NewValidationError("attachment", id, "not an inline image")
		}
		images = append(images, data)
	}
	return images, nil
}

// turnSummary is the one-line footer after an answer.
func turnSummary(r *reply) string {
	parts := []string{r.Model, formatDuration(r.Duration)}
	if r.OutTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", r.OutTokens))
		if r.Duration > 0 {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", float64(r.OutTokens)/r.Duration.Seconds()))
		}
	}
	if r.Provider != "" && r.Provider != "ollama" {
		parts = append([]string{r.Provider}, parts...)
	}
	return strings.Join(parts, " · ")
}
