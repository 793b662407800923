// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Inspect and edit the configuration.
//
// Command: config
// Short:   Inspect or edit the configuration
//
// Subcommands:
//   show (default)        Effective configuration (file + environment)
//   get KEY               One value, e.g. local.default_model
//   set KEY VALUE         Write one value to the config file
//   keys                  Every settable key
//   path                  Config file location
//   init [--force]        Write a config file with defaults

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-agent/internal/config"
)

// HandleConfig handles "config".
func HandleConfig(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw, "force")

	switch p.Subcommand() {
	case "", "show":
		if a.JSON {
			var redacted map[string]any
			if err := decodeJSONString(a.Config.String(), &redacted); err != nil {
				return err
			}
			return NewJSONResponse("config", redacted).Print(a.Out)
		}
		fmt.Fprintln(a.Out, a.Config.String())
		return nil

	case "get":
		key := p.Positional(1)
		if key == "" {
			return usage("rigrun-agent config get <key>")
		}
		v, err := a.Config.Get(key)
		if err != nil {
			return NewValidationError("key", key, err.Error())
		}
		if done, err := OutputJSON(a.Out, a.JSON, "config", map[string]any{"key": key, "value": v}); done {
			return err
		}
		if list, ok := v.([]string); ok {
			v = strings.Join(list, ",")
		}
		fmt.Fprintln(a.Out, v)
		return nil

	case "set":
		key, value := p.Positional(1), JoinPositionalArgs(p, 2)
		if key == "" {
			return usage("rigrun-agent config set <key> <value>")
		}
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		cfg, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if err := cfg.Set(key, value); err != nil {
			return NewValidationError("key", key, err.Error())
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := writeConfigFile(cfg, path); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "config", map[string]any{"key": key, "value": value, "path": path}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
		return nil

	case "keys":
		keys := config.GetAllKeys()
		if done, err := OutputJSON(a.Out, a.JSON, "config", keys); done {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(a.Out, k)
		}
		return nil

	case "path":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "config", map[string]string{"path": path}); done {
			return err
		}
		fmt.Fprintln(a.Out, path)
		return nil

	case "init":
		path, err := configFilePath(args)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return NewValidationErrorWithExample("config", path, "already exists", "rigrun-agent config init --force")
		}
		if err := writeConfigFile(config.Default(), path); err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "config", map[string]string{"path": path}); done {
			return err
		}
		fmt.Fprintf(a.Out, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
		return nil
	}
	return usage("rigrun-agent config [show|get|set|keys|path|init]")
}

// configFilePath is --config, else the existing JSON file, else the TOML
// path.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	tomlPath, err := config.ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := config.ConfigPathJSON()
	if err == nil {
		if _, err := os.Stat(jsonPath); err == nil {
			return jsonPath, nil
		}
	}
	return tomlPath, nil
}

// readConfigFile reads path without environment overrides, so "set" never
// persists values that came from the environment. A missing file yields
// defaults.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	load := config.LoadTOML
	if strings.HasSuffix(path, ".json") {
		load = config.LoadJSON
	}
	if err := load(cfg, path); err != nil {
		return nil, NewCommandError("config", "read", path, err)
	}
	return cfg, nil
}

func writeConfigFile(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}
