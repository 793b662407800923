// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// PullModel downloads a model, reporting progress to sink. Lines carrying
// completed/total become progress events; the call ends on a "success" status
// line or end of body. Malformed lines are skipped. An "error" field in a line
// ends the pull with stream_error.
//
// Stopping tok ends the pull with request_cancelled.
func (c *Client) PullModel(ctx context.Context, name string, sink Sink, tok *cancel.Token) error {
	if name == "" {
		return gateway.New(gateway.CodeInvalidArgument, "model name is required")
	}
	ctx, span := tracer.Start(ctx, "ollama.pull")
	span.SetAttributes(attribute.String("model", name))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(gateway.CodeOf(err)))
		sink.emit(ErrorEvent(err.Error()))
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	if tok != nil {
		unwire := context.AfterFunc(tok.Context(), stop)
		defer unwire()
	}

	if tok.Stopped() {
		return fail(gateway.New(gateway.CodeRequestCancelled, "pull cancelled").WithDetail("model", name))
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/pull", PullRequest{Model: name, Stream: true})
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	reader := NewStreamReader(resp.Body)
	for {
		if tok.Stopped() {
			return fail(gateway.New(gateway.CodeRequestCancelled, "pull cancelled").WithDetail("model", name))
		}

		var line PullResponse
		if err := reader.Next(&line); err != nil {
			if tok.Stopped() {
				return fail(gateway.New(gateway.CodeRequestCancelled, "pull cancelled").WithDetail("model", name))
			}
			if errors.Is(err, io.EOF) {
				sink.emit(DoneEvent())
				return nil
			}
			return fail(gateway.Normalize(err, gateway.CodeStreamError))
		}

		if line.Error != "" {
			return fail(gateway.New(gateway.CodeStreamError, line.Error).WithDetail("model", name))
		}
		if line.Completed != nil && line.Total != nil {
			ev := ProgressOf(*line.Completed, *line.Total)
			ev.Status = line.Status
			sink.emit(ev)
		}
		if line.Status == "success" {
			sink.emit(DoneEvent())
			return nil
		}
	}
}
