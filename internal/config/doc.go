// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-agent.
//
// Supports both TOML and JSON configuration formats, with defaults, a .env
// file, environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_AGENT_*), including those from ./.env
//   - ~/.rigrun-agent/config.toml
//   - ~/.rigrun-agent/config.json
//   - Built-in defaults
//
// The directory can be moved with RIGRUN_AGENT_HOME.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := ollama.NewClient(&ollama.ClientConfig{BaseURL: cfg.Local.OllamaURL})
package config
