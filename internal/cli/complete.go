// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// complete.go - One model turn, routed to the local server or the bridge.

package cli

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/remote"
	"github.com/jeranaias/rigrun-agent/internal/telemetry"
)

// turn is one request to a model.
type turn struct {
	// Provider is empty (or "ollama"/"local") for the local server, otherwise
	// a remote provider name handled by the bridge.
	Provider string
	Model    string
	System   string
	Messages []ollama.Message
	// Images are base64 payloads; they route the turn to the vision model.
	Images []string
}

// reply is the outcome of a turn.
type reply struct {
	Text      string
	State     ollama.StreamState
	Model     string
	Provider  string
	InTokens  int
	OutTokens int
	Duration  time.Duration
}

func (t turn) local() bool {
	switch strings.ToLower(strings.TrimSpace(t.Provider)) {
	case "", "ollama", "local":
		return true
	}
	return false
}

func (t turn) lastUserText() string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == "user" {
			return t.Messages[i].Content
		}
	}
	return ""
}

// complete runs t and calls onDelta with each new piece of text. A stopped
// token yields a reply with State cancelled and a nil error.
func (a *App) complete(ctx context.Context, t turn, tok *cancel.Token, onDelta func(string)) (*reply, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	start := time.Now()

	switch {
	case len(t.Images) > 0 && t.local():
		model := t.Model
		if model == "" {
			model = a.Config.Local.VisionModel
		}
		text, err := a.Ollama.ImageToText(tok.Context(), model, t.Images, t.lastUserText())
		if err != nil {
			if tok.Stopped() {
				return &reply{State: ollama.StateCancelled, Model: model, Provider: "ollama"}, nil
			}
			return nil, err
		}
		onDelta(text)
		r := &reply{Text: text, State: ollama.StateCompleted, Model: model, Provider: "ollama", Duration: time.Since(start)}
		a.Usage.Record(model, telemetry.SourceLocal, 0, 0, r.Duration, t.lastUserText())
		return r, nil

	case len(t.Images) > 0:
		return nil, gateway.New(gateway.CodeInvalidArgument, "images are only supported by the local vision model")

	case t.local():
		var sent int
		res, err := a.Ollama.ChatStream(ctx, ollama.StreamRequest{
			Model:        t.Model,
			Messages:     t.Messages,
			SystemPrompt: t.System,
			Token:        tok,
		}, func(soFar string) {
			if len(soFar) > sent {
				onDelta(soFar[sent:])
				sent = len(soFar)
			}
		})
		if err != nil {
			return nil, err
		}
		r := &reply{
			Text:      res.Message.Content,
			State:     res.State,
			Model:     res.Model,
			Provider:  "ollama",
			InTokens:  res.PromptEvalCount,
			OutTokens: res.EvalCount,
			Duration:  res.Duration,
		}
		if r.Model == "" {
			r.Model = t.Model
		}
		a.Usage.Record(r.Model, telemetry.SourceLocal, r.InTokens, r.OutTokens, r.Duration, t.lastUserText())
		return r, nil
	}

	res, err := a.Remote.Stream(ctx, remote.StreamPayload{
		Provider: t.Provider,
		Model:    t.Model,
		Messages: t.Messages,
		System:   t.System,
	}, func(ev ollama.ProgressEvent) {
		if ev.Kind == ollama.EventToken {
			onDelta(ev.Text)
		}
	}, tok)
	if err != nil {
		return nil, err
	}
	r := &reply{
		Text:     res.Message.Content,
		State:    res.State,
		Model:    t.Model,
		Provider: t.Provider,
		Duration: time.Since(start),
	}
	a.Usage.Record(r.Model, telemetry.SourceRemote, 0, 0, r.Duration, t.lastUserText())
	return r, nil
}
