// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
)

// maxRPCResponseSize caps a single HTTP bridge response body.
const maxRPCResponseSize = 16 * 1024 * 1024

// HTTPBridge calls a JSON-RPC 2.0 endpoint with one POST per call.
// It does not deliver notifications.
type HTTPBridge struct {
	name    string
	url     string
	methods map[string]bool
	client  *http.Client
	idSeq   atomic.Int64
}

// NewHTTPBridge creates a bridge for url exposing the listed methods.
// A nil client selects http.DefaultClient; deadlines come from the gateway.
func NewHTTPBridge(name, url string, methods []string, client *http.Client) *HTTPBridge {
	if client == nil {
		client = http.DefaultClient
	}
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return &HTTPBridge{name: name, url: url, methods: set, client: client}
}

// Name implements Bridge.
func (b *HTTPBridge) Name() string { return b.name }

// HasMethod implements Bridge.
func (b *HTTPBridge) HasMethod(method string) bool { return b.methods[method] }

// Call implements Bridge.
func (b *HTTPBridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := json.RawMessage(strconv.FormatInt(b.idSeq.Add(1), 10))
	rpcReq, err := newRPCRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, Wrap(CodeInvalidArgument, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, Wrap(CodeInvalidArgument, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Normalize(ctx.Err(), CodeUnknown)
		}
		return nil, Wrap(CodeBridgeUnavailable, "bridge endpoint unreachable", err).WithDetail("bridge", b.name)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseSize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Newf(FailedCode(b.name, method), "bridge returned HTTP %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(data))
	}

	var rpcResp rpcResponse
	if err := DecodeJSON(data, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
