// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// =============================================================================
// LEVELS
// =============================================================================

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the tag written in front of each message.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "LEVEL(" + fmt.Sprint(int(l)) + ")"
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error").
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// ROOT LOGGER
// =============================================================================

// LogFileName is the file created by Initialize.
const LogFileName = "rigrun-agent.log"

var (
	mu       sync.RWMutex
	base     = log.New(os.Stderr, "", log.LstdFlags)
	minLevel = LevelInfo
	logFile  *os.File
)

// Initialize adds a file sink in dir and sets the minimum level.
// An empty dir keeps stderr-only output.
func Initialize(dir string, level Level) error {
	mu.Lock()
	defer mu.Unlock()

	minLevel = level
	if dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	base.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// SetOutput redirects all log output. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

// Close releases the file sink, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	base.SetOutput(os.Stderr)
	return err
}

func enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= minLevel
}

// =============================================================================
// COMPONENT LOGGER
// =============================================================================

// Logger writes messages tagged with a component name.
// The zero value and a nil *Logger log without a component tag.
type Logger struct {
	component string
}

// Named returns a logger for one component.
func Named(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) output(level Level, format string, args ...any) {
	if !enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	prefix := "[" + level.String() + "] "
	if l != nil && l.component != "" {
		prefix += l.component + ": "
	}
	mu.RLock()
	defer mu.RUnlock()
	base.Output(3, prefix+msg)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.output(LevelDebug, format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.output(LevelInfo, format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.output(LevelWarn, format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.output(LevelError, format, args...) }
