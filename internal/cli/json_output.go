// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for --json.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/gateway"
)

// JSONResponse is the envelope every command prints under --json.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Code      string  `json:"code,omitempty"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse wraps a successful result.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse wraps a failure. Gateway errors carry their code.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	resp := &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		resp.Code = string(gerr.Code)
	}
	return resp
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *JSONResponse) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

// OutputJSON prints data in the JSON envelope when jsonMode is set and
// reports whether it did.
func OutputJSON(w io.Writer, jsonMode bool, command string, data any) (bool, error) {
	if !jsonMode {
		return false, nil
	}
	return true, NewJSONResponse(command, data).Print(w)
}

// =============================================================================
// RESPONSE DATA
// =============================================================================

// VersionData is the payload of "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// AskData is the payload of "ask --json".
type AskData struct {
	Model      string  `json:"model"`
	Provider   string  `json:"provider"`
	Response   string  `json:"response"`
	State      string  `json:"state"`
	DurationMs int64   `json:"durationMs"`
	Tokens     int     `json:"tokens,omitempty"`
	TokensPerS float64 `json:"tokensPerSecond,omitempty"`
}

// StatusData is the payload of "status --json".
type StatusData struct {
	Ollama      OllamaStatus  `json:"ollama"`
	Bridge      *BridgeStatus `json:"bridge,omitempty"`
	Store       string        `json:"store"`
	Attachments int           `json:"attachments"`
	Agents      int           `json:"agents"`
	ConfigPath  string        `json:"configPath,omitempty"`
}

// OllamaStatus describes the local model server.
type OllamaStatus struct {
	URL          string `json:"url"`
	Running      bool   `json:"running"`
	Version      string `json:"version,omitempty"`
	DefaultModel string `json:"defaultModel"`
	Models       int    `json:"models"`
}

// BridgeStatus describes the configured bridge.
type BridgeStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Running   bool   `json:"running"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunData is the payload of "run --json".
type RunData struct {
	RunID      string         `json:"runId"`
	AgentID    string         `json:"agentId"`
	Status     string         `json:"status"`
	LastNode   string         `json:"lastNode,omitempty"`
	Steps      int            `json:"steps"`
	DurationMs int64          `json:"durationMs"`
	Vars       map[string]any `json:"vars"`
	Error      string         `json:"error,omitempty"`
}
