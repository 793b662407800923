// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// fakeModel records calls and answers from canned values.
type fakeModel struct {
	mu    sync.Mutex
	calls []string

	generate string
	chat     []string // deltas
	title    string
	vision   string
	err      error

	lastChat   ollama.StreamRequest
	lastVision []string
}

func (m *fakeModel) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

func (m *fakeModel) Generate(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	m.record("generate:" + req.Prompt)
	if m.err != nil {
		return nil, m.err
	}
	return &ollama.GenerateResponse{Response: m.generate, Done: true}, nil
}

func (m *fakeModel) ChatStream(_ context.Context, req ollama.StreamRequest, onToken ollama.TokenCallback, opts ...ollama.ChatOptions) (*ollama.ChatResult, error) {
	m.record("chat")
	m.lastChat = req
	if m.err != nil {
		return nil, m.err
	}
	var acc strings.Builder
	for _, d := range m.chat {
		acc.WriteString(d)
		if len(opts) > 0 && opts[0].OnEvent != nil {
			opts[0].OnEvent(ollama.TokenEvent(d))
		}
		if onToken != nil {
			onToken(acc.String())
		}
	}
	return &ollama.ChatResult{Message: ollama.NewAssistantMessage(acc.String()), State: ollama.StateCompleted}, nil
}

func (m *fakeModel) GenerateTitle(_ context.Context, _ string, messages []ollama.Message, fragment string) (string, error) {
	m.record(fmt.Sprintf("title:%d:%s", len(messages), fragment))
	if m.err != nil {
		return "", m.err
	}
	return m.title, nil
}

func (m *fakeModel) ImageToText(_ context.Context, _ string, images []string, userText string) (string, error) {
	m.record("vision:" + userText)
	m.lastVision = images
	if m.err != nil {
		return "", m.err
	}
	return m.vision, nil
}

func chain(nodes ...*Node) *Definition {
	def := &Definition{ID: "test", Name: "Test", Nodes: map[string]*Node{}}
	for i, n := range nodes {
		if i == 0 {
			def.Start = n.ID
		}
		def.Nodes[n.ID] = n
	}
	return def
}

func TestRunChain(t *testing.T) {
	model := &fakeModel{generate: "a summary", chat: []string{"Hel", "lo"}, title: "Greetings"}
	def := chain(
		&Node{ID: "summarize", Type: NodeTextCompletion, Prompt: "Summarize: ${topic}$", Outputs: []string{"summary"}, Next: []string{"reply"}},
		&Node{ID: "reply", Type: NodeChatCompletion, Prompt: "Context: ${summary}$", Inputs: []string{"history"}, Outputs: []string{"reply", "history"}, Next: []string{"title"}},
		&Node{ID: "title", Type: NodeTitleGeneration, Prompt: "short", Inputs: []string{"history"}, Outputs: []string{"title"}, Next: []string{"done"}},
		&Node{ID: "done", Type: NodeEnd},
	)

	var events []Event
	r := NewRunner(model, WithEvents(func(ev Event) { events = append(events, ev) }))
	in := Vars{"topic": "cats", "history": []ollama.Message{ollama.NewUserMessage("hi")}}

	res, err := r.Run(context.Background(), def, in, nil)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "done", res.LastNode)
	assert.Equal(t, 4, res.Steps)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, "a summary", res.Vars["summary"])
	assert.Equal(t, "Hello", res.Vars["reply"])
	assert.Equal(t, "Greetings", res.Vars["title"])
	hist := res.Vars.Messages("history")
	require.Len(t, hist, 2)
	assert.Equal(t, ollama.NewAssistantMessage("Hello"), hist[1])

	assert.Equal(t, "Context: a summary", model.lastChat.SystemPrompt)
	assert.Equal(t, []string{"generate:Summarize: cats", "chat", "title:2:short"}, model.calls)

	// The caller's bag is not mutated.
	assert.NotContains(t, in, "summary")
	assert.Len(t, in["history"], 1)

	var kinds []EventKind
	var tokens []string
	for _, ev := range events {
		if ev.Kind == EventNodeToken {
			tokens = append(tokens, ev.Text)
			continue
		}
		kinds = append(kinds, ev.Kind)
		assert.Equal(t, res.RunID, ev.RunID)
	}
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, EventRunStarted, kinds[0])
	assert.Equal(t, EventRunFinished, kinds[len(kinds)-1])
	assert.Len(t, kinds, 2+2*4)
	assert.Equal(t, RunCompleted, events[len(events)-1].Status)
}

func TestRunHaltsOnFailure(t *testing.T) {
	var ran []string
	step := func(id string, okResult bool) Handler {
		return HandlerFunc(func(_ context.Context, call Call) Result {
			ran = append(ran, call.Node.ID)
			if !okResult {
				call.Vars["poisoned"] = true
				return Result{Vars: call.Vars}
			}
			call.Vars[id] = "done"
			return ok(call.Vars)
		})
	}
	r := NewRunner(nil,
		WithHandler("first", step("first", true)),
		WithHandler("second", step("second", false)),
		WithHandler("third", step("third", true)),
	)
	def := chain(
		&Node{ID: "a", Type: "first", Next: []string{"b"}},
		&Node{ID: "b", Type: "second", Next: []string{"c"}},
		&Node{ID: "c", Type: "third", Next: []string{"end"}},
		&Node{ID: "end", Type: NodeEnd},
	)

	res, err := r.Run(context.Background(), def, Vars{"seed": 1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeFailed)
	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, "a", res.LastNode)
	assert.Equal(t, Vars{"seed": 1, "first": "done"}, res.Vars)
}

func TestRunHandlerError(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	def := chain(
		&Node{ID: "gen", Type: NodeTextCompletion, Outputs: []string{"out"}, Next: []string{"end"}},
		&Node{ID: "end", Type: NodeEnd},
	)
	res, err := NewRunner(model).Run(context.Background(), def, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, RunFailed, res.Status)
	assert.Empty(t, res.LastNode)
	assert.Empty(t, res.Vars)
}

func TestRunUnknownAndMissingNodes(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		want error
	}{
		{
			name: "unknown type",
			def:  chain(&Node{ID: "x", Type: "teleport", Next: []string{"end"}}, &Node{ID: "end", Type: NodeEnd}),
			want: ErrUnknownNodeType,
		},
		{
			name: "single end node",
			def:  chain(&Node{ID: "x", Type: NodeEnd}),
			want: nil,
		},
		{
			name: "missing start",
			def:  &Definition{ID: "d", Start: "nope", Nodes: map[string]*Node{}},
			want: ErrNodeNotFound,
		},
		{
			name: "no successor",
			def:  chain(&Node{ID: "x", Type: "noop"}),
			want: ErrNoSuccessor,
		},
		{
			name: "dangling next",
			def:  chain(&Node{ID: "x", Type: "noop", Next: []string{"ghost"}}),
			want: ErrNodeNotFound,
		},
	}

	noop := HandlerFunc(func(_ context.Context, call Call) Result { return ok(call.Vars) })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewRunner(nil, WithHandler("noop", noop)).Run(context.Background(), tt.def, nil, nil)
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, RunCompleted, res.Status)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, RunFailed, res.Status)
		})
	}
}

func TestRunStepLimit(t *testing.T) {
	noop := HandlerFunc(func(_ context.Context, call Call) Result { return ok(call.Vars) })
	def := chain(
		&Node{ID: "a", Type: "noop", Next: []string{"b"}},
		&Node{ID: "b", Type: "noop", Next: []string{"a"}},
	)
	res, err := NewRunner(nil, WithHandler("noop", noop), WithMaxSteps(5)).Run(context.Background(), def, nil, nil)
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 5, res.Steps)
}

func TestRunForceStop(t *testing.T) {
	tok := cancel.New(context.Background())
	var ran []string
	h := HandlerFunc(func(_ context.Context, call Call) Result {
		ran = append(ran, call.Node.ID)
		call.Vars[call.Node.ID] = true
		if call.Node.ID == "b" {
			call.Token.Cancel()
		}
		return ok(call.Vars)
	})
	def := chain(
		&Node{ID: "a", Type: "step", Next: []string{"b"}},
		&Node{ID: "b", Type: "step", Next: []string{"c"}},
		&Node{ID: "c", Type: "step", Next: []string{"end"}},
		&Node{ID: "end", Type: NodeEnd},
	)

	res, err := NewRunner(nil, WithHandler("step", h)).Run(context.Background(), def, nil, tok)
	require.NoError(t, err)
	assert.Equal(t, RunStopped, res.Status)
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, "b", res.LastNode)
	assert.Equal(t, Vars{"a": true, "b": true}, res.Vars)
}

func TestRunStoppedBeforeStart(t *testing.T) {
	tok := cancel.New(context.Background())
	tok.Cancel()
	def := chain(&Node{ID: "end", Type: NodeEnd})
	res, err := NewRunner(nil).Run(context.Background(), def, nil, tok)
	require.NoError(t, err)
	assert.Equal(t, RunStopped, res.Status)
	assert.Zero(t, res.Steps)
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	h := HandlerFunc(func(context.Context, Call) Result { panic("kaboom") })
	def := chain(&Node{ID: "a", Type: "bad", Next: []string{"end"}}, &Node{ID: "end", Type: NodeEnd})
	res, err := NewRunner(nil, WithHandler("bad", h)).Run(context.Background(), def, nil, nil)
	assert.ErrorIs(t, err, ErrNodeFailed)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, RunFailed, res.Status)
}

func TestImageToTextHandler(t *testing.T) {
	model := &fakeModel{vision: "image 1: a cat"}
	def := chain(
		&Node{ID: "see", Type: NodeImageToText, Inputs: []string{"images", "question"}, Outputs: []string{"notes"}, Next: []string{"end"}},
		&Node{ID: "end", Type: NodeEnd},
	)
	res, err := NewRunner(model).Run(context.Background(), def, Vars{"images": "data:image/png;base64,AAAA", "question": "what?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "image 1: a cat", res.Vars["notes"])
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, model.lastVision)
	assert.Equal(t, []string{"vision:what?"}, model.calls)

	_, err = NewRunner(model).Run(context.Background(), def, Vars{}, nil)
	assert.Error(t, err)
}

func TestHandlerRequiresOutput(t *testing.T) {
	def := chain(&Node{ID: "gen", Type: NodeTextCompletion, Next: []string{"end"}}, &Node{ID: "end", Type: NodeEnd})
	_, err := NewRunner(&fakeModel{}).Run(context.Background(), def, nil, nil)
	assert.Error(t, err)
}

// The chat handler against the real client: the stopped token cancels the
// stream, and the runner reports the run as stopped rather than failed.
func TestChatCompletionStoppedMidStream(t *testing.T) {
	tok := cancel.New(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"}}`)
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := ollama.NewClient(&ollama.ClientConfig{BaseURL: srv.URL})
	def := chain(
		&Node{ID: "chat", Type: NodeChatCompletion, Inputs: []string{"history"}, Outputs: []string{"reply"}, Next: []string{"end"}},
		&Node{ID: "end", Type: NodeEnd},
	)
	r := NewRunner(client, WithEvents(func(ev Event) {
		if ev.Kind == EventNodeToken {
			tok.Cancel()
		}
	}))

	res, err := r.Run(context.Background(), def, Vars{"history": "hello"}, tok)
	require.NoError(t, err)
	assert.Equal(t, RunStopped, res.Status)
	assert.Equal(t, "Hel", res.Vars["reply"])
}
