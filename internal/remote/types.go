// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// Bridge method names.
const (
	MethodCatalog               = "get_catalog"
	MethodToolkitCatalog        = "get_toolkit_catalog"
	MethodStreamStart           = "stream_start"
	MethodStreamCancel          = "stream_cancel"
	MethodStatus                = "status"
	MethodRestart               = "restart"
	MethodLibrarySearch         = "library_search"
	MethodPickDirectory         = "pick_directory"
	MethodValidateWorkspaceRoot = "validate_workspace_root"

	// NotifyStreamEvent carries StreamEvent payloads.
	NotifyStreamEvent = "stream_event"
)

// AllMethods lists every method a full bridge exposes.
var AllMethods = []string{
	MethodCatalog, MethodToolkitCatalog, MethodStreamStart, MethodStreamCancel,
	MethodStatus, MethodRestart, MethodLibrarySearch, MethodPickDirectory,
	MethodValidateWorkspaceRoot,
}

// Status is the bridge's health report.
type Status struct {
	Running bool           `json:"running"`
	Version string         `json:"version,omitempty"`
	Uptime  float64        `json:"uptime_secs,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolkitEntry is one tool offered by the bridge's toolkit.
type ToolkitEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// LibraryItem is one library search hit.
type LibraryItem struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Path    string  `json:"path,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// WorkspaceValidation is the result of validate_workspace_root.
type WorkspaceValidation struct {
	Valid  bool   `json:"valid"`
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

// StreamPayload is an outgoing remote stream request. Provider is required;
// it is never inferred from the model name.
type StreamPayload struct {
	Provider string           `json:"provider"`
	Model    string           `json:"model"`
	Messages []ollama.Message `json:"messages"`
	System   string           `json:"system,omitempty"`
	APIKey   string           `json:"api_key,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
}

func (p *StreamPayload) ProviderName() string { return strings.TrimSpace(p.Provider) }
func (p *StreamPayload) HasAPIKey() bool      { return strings.TrimSpace(p.APIKey) != "" }
func (p *StreamPayload) SetAPIKey(key string) { p.APIKey = key }

// streamHandle is the stream_start result.
type streamHandle struct {
	Handle string `json:"handle"`
}

// StreamEvent is one stream_event notification.
type StreamEvent struct {
	Handle    string `json:"handle"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// StreamResult is the outcome of Stream.
type StreamResult struct {
	Handle  string
	Message ollama.Message
	State   ollama.StreamState
}
