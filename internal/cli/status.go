// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Health of the local server, the bridge and the store.
//
// Command: status
// Short:   Show what rigrun-agent can reach

package cli

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-agent/internal/config"
)

// HandleStatus handles "status". The local server and the bridge are probed
// concurrently; a failed probe is reported, not returned.
func HandleStatus(ctx context.Context, a *App, args Args) error {
	data := StatusData{
		Ollama: OllamaStatus{
			URL:          a.Ollama.BaseURL(),
			DefaultModel: a.Model(ctx, args.Model),
		},
		Store:  a.Config.Attachments.Backend + " " + a.Config.StorePath(),
		Agents: len(a.Agents.List()),
	}
	if path, err := configFilePath(args); err == nil {
		data.ConfigPath = path
	}

	var g errgroup.Group
	g.Go(func() error {
		version, err := a.Ollama.Version(ctx)
		if err != nil {
			return nil
		}
		data.Ollama.Running = true
		data.Ollama.Version = version
		if names, err := a.Ollama.ModelNames(ctx); err == nil {
			data.Ollama.Models = len(names)
		}
		return nil
	})
	if t := a.Config.BridgeTransport(); t != "" {
		data.Bridge = &BridgeStatus{Name: a.Remote.Bridge(), Transport: t}
		g.Go(func() error {
			st, err := a.Remote.Status(ctx)
			if err != nil {
				data.Bridge.Error = err.Error()
				return nil
			}
			data.Bridge.Running = st.Running
			data.Bridge.Version = st.Version
			return nil
		})
	}
	g.Go(func() error {
		data.Attachments = len(a.Attachments.List(ctx))
		return nil
	})
	_ = g.Wait()

	if done, err := OutputJSON(a.Out, a.JSON, "status", data); done {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("rigrun-agent status"))
	fmt.Fprintln(a.Out, SectionStyle.Render("Local server"))
	printField(a.Out, "url", data.Ollama.URL)
	printField(a.Out, "running", statusWord(data.Ollama.Running, "yes", "no"))
	if data.Ollama.Running {
		printField(a.Out, "version", data.Ollama.Version)
		printField(a.Out, "models", data.Ollama.Models)
	}
	printField(a.Out, "model", data.Ollama.DefaultModel)

	fmt.Fprintln(a.Out, SectionStyle.Render("Bridge"))
	if data.Bridge == nil {
		printField(a.Out, "configured", "no")
	} else {
		printField(a.Out, "name", data.Bridge.Name+" ("+data.Bridge.Transport+")")
		printField(a.Out, "running", statusWord(data.Bridge.Running, "yes", "no"))
		if data.Bridge.Error != "" {
			printField(a.Out, "error", data.Bridge.Error)
		}
	}

	fmt.Fprintln(a.Out, SectionStyle.Render("Storage"))
	printField(a.Out, "store", data.Store)
	printField(a.Out, "attachments", data.Attachments)
	printField(a.Out, "agents", fmt.Sprintf("%d in %s", data.Agents, a.Agents.Dir()))
	if data.ConfigPath != "" {
		printField(a.Out, "config", data.ConfigPath)
	}
	if home, err := config.ConfigDir(); err == nil {
		printField(a.Out, "home", home)
	}
	return nil
}
