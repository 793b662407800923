// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// TitleInstruction heads every title prompt.
const TitleInstruction = "Generate a short, descriptive title (at most six words) for the conversation below. " +
	"Respond with JSON only.\n\nConversation:\n"

// titleSchema asks for {"title": string}.
var titleSchema = json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`)

// TitlePrompt builds the prompt: the instruction header, each user message on
// its own line, then the caller's fragment.
func TitlePrompt(messages []Message, fragment string) string {
	var b strings.Builder
	b.WriteString(TitleInstruction)
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	if fragment != "" {
		b.WriteByte('\n')
		b.WriteString(fragment)
	}
	return b.String()
}

// GenerateTitle asks model for a conversation title. The body is requested
// with a JSON schema and parsed once; a missing or empty title is parse_error.
func (c *Client) GenerateTitle(ctx context.Context, model string, messages []Message, fragment string) (string, error) {
	model = c.model(model)
	ctx, span := tracer.Start(ctx, "ollama.title")
	span.SetAttributes(attribute.String("model", model))
	defer span.End()

	resp, err := c.Generate(ctx, GenerateRequest{
		Model:  model,
		Prompt: TitlePrompt(messages, fragment),
		Format: titleSchema,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(gateway.CodeOf(err)))
		return "", err
	}

	title, err := parseTitle(resp.Response)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(gateway.CodeParseError))
		return "", err
	}
	return title, nil
}

func parseTitle(body string) (string, error) {
	var out struct {
		Title *string `json:"title"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &out); err != nil {
		return "", gateway.Wrap(gateway.CodeParseError, "title response is not JSON", err).
			WithDetail("body", body)
	}
	if out.Title == nil || strings.TrimSpace(*out.Title) == "" {
		return "", gateway.New(gateway.CodeParseError, "title response has no title").
			WithDetail("body", body)
	}
	return strings.TrimSpace(*out.Title), nil
}
