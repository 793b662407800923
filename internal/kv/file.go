// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/util"
)

const fileSuffix = ".kv"

// FileStore keeps one file per key under BaseDir. File names are the
// base64url-encoded key, so any key is a valid name on every platform.
type FileStore struct {
	// BaseDir is the directory holding the item files.
	// Default: ~/.rigrun-agent/store/
	BaseDir string
}

// NewFileStore creates a store rooted at baseDir, creating it if needed. An
// empty baseDir uses ~/.rigrun-agent/store.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(home, ".rigrun-agent", "store")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("kv: create store directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir}, nil
}

func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.BaseDir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileSuffix)
}

func (s *FileStore) GetItem(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// SetItem writes the value atomically so a crash leaves either the old or
// the new value.
func (s *FileStore) SetItem(_ context.Context, key, value string) error {
	return util.AtomicWriteFile(s.filePath(key), []byte(value), 0600)
}

func (s *FileStore) RemoveItem(_ context.Context, key string) error {
	err := os.Remove(s.filePath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	keys := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(entry.Name(), fileSuffix))
		if err != nil {
			continue // not ours
		}
		if k := string(raw); strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Close() error { return nil }
