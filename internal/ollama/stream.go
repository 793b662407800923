// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader splits a streaming body into newline-delimited JSON objects.
type StreamReader struct {
	reader  *bufio.Reader
	skipped int
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next decodes the next line into v. Blank and malformed lines are skipped.
// It returns io.EOF once the body is exhausted.
func (s *StreamReader) Next(v any) error {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return err
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if jerr := json.Unmarshal(line, v); jerr == nil {
				return nil
			}
			s.skipped++
			log.Debugf("skipping malformed stream line (%d bytes)", len(line))
		}

		if err != nil {
			// Last line had no trailing newline and was blank or malformed.
			return err
		}
	}
}

// Skipped returns the number of malformed lines skipped so far.
func (s *StreamReader) Skipped() int {
	return s.skipped
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatResult is the outcome of ChatStream.
type ChatResult struct {
	Message         Message
	State           StreamState
	Model           string
	EvalCount       int
	PromptEvalCount int
	Duration        time.Duration
}

// TokenCallback receives the full assistant text accumulated so far.
type TokenCallback func(soFar string)

// ChatOptions are optional hooks for ChatStream.
type ChatOptions struct {
	// OnEvent receives token and done events in addition to the callback.
	OnEvent Sink
	// OnState observes state transitions.
	OnState func(StreamState)
}

// ChatStream sends a streaming chat request. For every chunk that carries
// assistant content, onToken is called with the cumulative text. The call
// ends on the chunk's done flag, at end of body, or when req.Token stops;
// the token is checked before every chunk read and also aborts the transport.
//
// A cancelled stream returns the partial message with State cancelled and a
// nil error.
func (c *Client) ChatStream(ctx context.Context, req StreamRequest, onToken TokenCallback, opts ...ChatOptions) (*ChatResult, error) {
	var opt ChatOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	model := c.model(req.Model)
	ctx, span := tracer.Start(ctx, "ollama.chat_stream")
	span.SetAttributes(attribute.String("model", model), attribute.Int("messages", len(req.Messages)))
	defer span.End()

	sm := newStateMachine(opt.OnState)
	fail := func(err error) (*ChatResult, error) {
		_ = sm.to(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(gateway.CodeOf(err)))
		opt.OnEvent.emit(ErrorEvent(err.Error()))
		return &ChatResult{State: StateFailed, Model: model}, err
	}

	tok := req.Token
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	if tok != nil {
		unwire := context.AfterFunc(tok.Context(), stop)
		defer unwire()
	}

	body := ChatRequest{
		Model:    model,
		Messages: BuildMessages(req.SystemPrompt, req.Messages, c.config.HistoryTurns),
		Stream:   true,
		Format:   req.Format,
		Options:  req.Options,
	}

	_ = sm.to(StateSending)
	if tok.Stopped() {
		return fail(gateway.New(gateway.CodeRequestCancelled, "stream cancelled before send"))
	}
	start := time.Now()
	resp, err := c.send(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		if tok.Stopped() {
			err = gateway.Wrap(gateway.CodeRequestCancelled, "stream cancelled before response", err)
		}
		return fail(err)
	}
	defer resp.Body.Close()
	_ = sm.to(StateStreaming)

	result, err := readChat(resp.Body, tok, onToken, opt.OnEvent)
	result.Model = firstNonEmpty(result.Model, model)
	result.Duration = time.Since(start)

	switch {
	case result.State == StateCancelled:
		// Close now so the server sees the abort even if the caller holds on.
		resp.Body.Close()
		_ = sm.to(StateCancelled)
		span.SetAttributes(attribute.Bool("cancelled", true))
		log.Debugf("chat stream cancelled after %d chars", len(result.Message.Content))
		return result, nil
	case err != nil:
		res, ferr := fail(err)
		res.Message = result.Message
		return res, ferr
	}

	_ = sm.to(StateCompleted)
	result.State = StateCompleted
	span.SetAttributes(attribute.Int("eval_count", result.EvalCount))
	opt.OnEvent.emit(DoneEvent())
	return result, nil
}

// readChat consumes a chat body. It returns State cancelled when tok stops,
// and an empty State otherwise.
func readChat(body io.Reader, tok *cancel.Token, onToken TokenCallback, onEvent Sink) (*ChatResult, error) {
	reader := NewStreamReader(body)
	var acc strings.Builder
	res := &ChatResult{}

	finish := func() *ChatResult {
		res.Message = NewAssistantMessage(acc.String())
		return res
	}

	for {
		if tok.Stopped() {
			res.State = StateCancelled
			return finish(), nil
		}

		var chunk ChatResponse
		err := reader.Next(&chunk)
		if err != nil {
			if tok.Stopped() {
				res.State = StateCancelled
				return finish(), nil
			}
			if errors.Is(err, io.EOF) {
				return finish(), nil
			}
			return finish(), gateway.Normalize(err, gateway.CodeStreamError)
		}

		if chunk.Model != "" {
			res.Model = chunk.Model
		}
		if chunk.Message.Content != "" {
			acc.WriteString(chunk.Message.Content)
			onEvent.emit(TokenEvent(chunk.Message.Content))
			if onToken != nil {
				onToken(acc.String())
			}
		}
		if chunk.Done {
			res.EvalCount = chunk.EvalCount
			res.PromptEvalCount = chunk.PromptEvalCount
			return finish(), nil
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
