// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the slice of the local streaming client that node handlers use.
// *ollama.Client satisfies it.
type Model interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
	ChatStream(ctx context.Context, req ollama.StreamRequest, onToken ollama.TokenCallback, opts ...ollama.ChatOptions) (*ollama.ChatResult, error)
	GenerateTitle(ctx context.Context, model string, messages []ollama.Message, fragment string) (string, error)
	ImageToText(ctx context.Context, model string, images []string, userText string) (string, error)
}

var _ Model = (*ollama.Client)(nil)

// =============================================================================
// HANDLERS
// =============================================================================

// Call is what a handler receives for one node execution.
type Call struct {
	RunID string
	Node  *Node
	// Vars is a private copy of the bag; handlers may modify and return it.
	Vars  Vars
	Token *cancel.Token
	// Emit forwards handler-level events (streamed tokens) to the run's
	// observer. Never nil.
	Emit func(Event)
}

// Result is a handler's outcome. When OK is false the run halts and Vars is
// discarded.
type Result struct {
	OK   bool
	Vars Vars
	Err  error
}

// Handler executes one node type.
type Handler interface {
	Handle(ctx context.Context, call Call) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) Result

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, call Call) Result { return f(ctx, call) }

func ok(vars Vars) Result { return Result{OK: true, Vars: vars} }

func failed(node *Node, err error) Result {
	log.Warnf("node %s (%s) failed: %v", node.ID, node.Type, err)
	return Result{Err: fmt.Errorf("node %s: %w", node.ID, err)}
}

// BuiltinHandlers returns the handlers for every built-in node type.
func BuiltinHandlers(model Model) map[NodeType]Handler {
	return map[NodeType]Handler{
		NodeTextCompletion:  textCompletion{model},
		NodeChatCompletion:  chatCompletion{model},
		NodeTitleGeneration: titleGeneration{model},
		NodeImageToText:     imageToText{model},
		NodeEnd:             HandlerFunc(func(_ context.Context, call Call) Result { return ok(call.Vars) }),
	}
}

func requireOutput(node *Node) error {
	if node.Output(0) == "" {
		return gateway.Newf(gateway.CodeInvalidArgument, "node %s declares no output variable", node.ID)
	}
	return nil
}

// text_completion: renders the prompt against the bag and stores the
// generated text in outputs[0].
type textCompletion struct{ model Model }

func (h textCompletion) Handle(ctx context.Context, call Call) Result {
	n := call.Node
	if err := requireOutput(n); err != nil {
		return failed(n, err)
	}
	resp, err := h.model.Generate(ctx, ollama.GenerateRequest{
		Model:  n.Model,
		Prompt: ollama.Render(n.Prompt, call.Vars),
		System: ollama.Render(n.System, call.Vars),
	})
	if err != nil {
		return failed(n, err)
	}
	call.Vars[n.Output(0)] = resp.Response
	return ok(call.Vars)
}

// chat_completion: streams a reply to the message list in inputs[0]. The
// rendered prompt is the system prompt. The reply goes to outputs[0]; when
// outputs[1] is declared it receives the history with the reply appended.
type chatCompletion struct{ model Model }

func (h chatCompletion) Handle(ctx context.Context, call Call) Result {
	n := call.Node
	if err := requireOutput(n); err != nil {
		return failed(n, err)
	}
	history := call.Vars.Messages(n.Input(0))
	system := n.System
	if system == "" {
		system = n.Prompt
	}

	res, err := h.model.ChatStream(ctx, ollama.StreamRequest{
		Model:        n.Model,
		Messages:     history,
		SystemPrompt: ollama.Render(system, call.Vars),
		Token:        call.Token,
	}, nil, ollama.ChatOptions{
		OnEvent: func(ev ollama.ProgressEvent) {
			if ev.Kind == ollama.EventToken {
				call.Emit(Event{Kind: EventNodeToken, NodeID: n.ID, NodeType: n.Type, Text: ev.Text})
			}
		},
	})
	if err != nil {
		return failed(n, err)
	}

	call.Vars[n.Output(0)] = res.Message.Content
	if out := n.Output(1); out != "" {
		next := make([]ollama.Message, 0, len(history)+1)
		next = append(next, history...)
		call.Vars[out] = append(next, res.Message)
	}
	return ok(call.Vars)
}

// title_generation: titles the conversation in inputs[0], with the rendered
// prompt as the extra instruction fragment.
type titleGeneration struct{ model Model }

func (h titleGeneration) Handle(ctx context.Context, call Call) Result {
	n := call.Node
	if err := requireOutput(n); err != nil {
		return failed(n, err)
	}
	title, err := h.model.GenerateTitle(ctx, n.Model, call.Vars.Messages(n.Input(0)), ollama.Render(n.Prompt, call.Vars))
	if err != nil {
		return failed(n, err)
	}
	call.Vars[n.Output(0)] = title
	return ok(call.Vars)
}

// image_to_text: describes the images in inputs[0], guided by the text in
// inputs[1] (or the rendered prompt when no second input is declared).
type imageToText struct{ model Model }

func (h imageToText) Handle(ctx context.Context, call Call) Result {
	n := call.Node
	if err := requireOutput(n); err != nil {
		return failed(n, err)
	}
	images := call.Vars.Strings(n.Input(0))
	if len(images) == 0 {
		return failed(n, gateway.Newf(gateway.CodeInvalidArgument, "no images in %q", n.Input(0)))
	}
	text := call.Vars.String(n.Input(1))
	if text == "" {
		text = ollama.Render(n.Prompt, call.Vars)
	}
	desc, err := h.model.ImageToText(ctx, n.Model, images, text)
	if err != nil {
		return failed(n, err)
	}
	call.Vars[n.Output(0)] = desc
	return ok(call.Vars)
}
