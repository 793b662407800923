// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Formatting and input helpers shared by commands.

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/attachments"
)

// maxAttachmentBytes bounds files read by attach and --image.
const maxAttachmentBytes = 20 << 20

// formatDuration formats d compactly: 850ms, 4.2s, 3m10s, 2h5m.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatAge formats how long ago t was.
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// formatBytes formats a byte count.
func formatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	}
	return fmt.Sprintf("%d bytes", n)
}

// decodeVarValue keeps strings as strings unless they are valid JSON
// scalars, arrays or objects.
func decodeVarValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '[', '{', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 't', 'f', 'n':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

// readInput returns text, or stdin when text is "-".
func readInput(in io.Reader, text string) (string, error) {
	if text != "-" {
		return text, nil
	}
	data, err := io.ReadAll(io.LimitReader(in, maxAttachmentBytes))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// payloadFromFile reads a local file into an attachment payload. Images
// become "image" payloads, everything else "document".
func payloadFromFile(path string) (attachments.Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return attachments.Payload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
	if err != nil {
		return attachments.Payload{}, err
	}
	if len(data) > maxAttachmentBytes {
		return attachments.Payload{}, NewValidationError("file", path,
			fmt.Sprintf("larger than %s", formatBytes(maxAttachmentBytes)))
	}

	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	kind := "document"
	if strings.HasPrefix(mediaType, "image/") {
		kind = "image"
	}
	return attachments.Payload{
		Type: kind,
		Source: attachments.Source{
			Type:      attachments.SourceBase64,
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// payloadFromURL builds a URL-sourced payload.
func payloadFromURL(url string) attachments.Payload {
	kind := "document"
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(url))); strings.HasPrefix(mt, "image/") {
		kind = "image"
	}
	return attachments.Payload{
		Type:   kind,
		Source: attachments.Source{Type: attachments.SourceURL, URL: url},
	}
}

// imageData returns the base64 image data of a payload, or "" when the
// payload is not an inline image.
func imageData(p *attachments.Payload) string {
	if p == nil || p.Type != "image" || p.Source.Type != attachments.SourceBase64 {
		return ""
	}
	return p.Source.Data
}

// isURL reports whether s looks like an http(s) URL.
func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func decodeJSONString(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
