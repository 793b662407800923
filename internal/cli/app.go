// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring of the rigrun-agent services for one CLI invocation.

package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/jeranaias/rigrun-agent/internal/agent"
	"github.com/jeranaias/rigrun-agent/internal/attachments"
	"github.com/jeranaias/rigrun-agent/internal/catalog"
	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/kv"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/remote"
	"github.com/jeranaias/rigrun-agent/internal/settings"
	"github.com/jeranaias/rigrun-agent/internal/telemetry"
)

// App holds the services a command needs. Build it with NewApp and release
// it with Close.
type App struct {
	Config *config.Config

	Store       kv.Store
	Attachments *attachments.Cache
	Files       *attachments.Tiered
	Settings    *settings.Manager
	Gateway     *gateway.Registry
	Remote      *remote.Client
	Catalogs    *catalog.Holder
	Ollama      *ollama.Client
	Agents      *agent.Library
	Usage       *telemetry.UsageTracker

	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	JSON   bool
	Quiet  bool
	TTY    bool
	closer []func(context.Context) error
}

// AppOptions override parts of the wiring. Zero values use the config.
type AppOptions struct {
	Store      kv.Store
	HTTPClient *http.Client
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	TTY        *bool
	// NoTelemetry skips tracer setup even when the config enables it.
	NoTelemetry bool
}

// NewApp wires every service from cfg. A bridge that cannot be reached is
// logged and left unregistered; remote commands then fail with
// bridge_unavailable.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	a := &App{
		Config: cfg,
		In:     opts.In,
		Out:    opts.Out,
		Err:    opts.Err,
	}
	if a.In == nil {
		a.In = os.Stdin
	}
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Err == nil {
		a.Err = os.Stderr
	}
	if opts.TTY != nil {
		a.TTY = *opts.TTY
	} else {
		a.TTY = IsStdoutTTY()
	}

	if !opts.NoTelemetry {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			Enabled:        cfg.Telemetry.Enabled,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			log.Warnf("tracing disabled: %v", err)
		} else {
			a.onClose(func(ctx context.Context) error { return shutdown(ctx) })
		}
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = kv.Open(ctx, cfg.Attachments.Backend, cfg.StorePath())
		if err != nil {
			_ = a.Close(ctx)
			return nil, NewCommandError("store", "open", cfg.StorePath(), err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
	}
	a.Store = store

	a.Attachments = attachments.New(store, attachments.WithTTL(cfg.AttachmentTTL()))
	a.Files = attachments.NewTiered(a.Attachments)
	a.Settings = settings.NewManager(store)
	a.Catalogs = catalog.NewHolder()
	a.Usage = telemetry.NewUsageTracker(store)

	a.Ollama = ollama.NewClient(&ollama.ClientConfig{
		BaseURL:          cfg.Local.OllamaURL,
		RequestTimeout:   cfg.RequestTimeout(),
		VersionTimeout:   cfg.VersionTimeout(),
		DefaultModel:     cfg.Local.DefaultModel,
		HistoryTurns:     cfg.Local.HistoryTurns,
		ImageConcurrency: cfg.Local.ImageConcurrency,
		HTTPClient:       opts.HTTPClient,
	})

	a.Gateway = gateway.NewRegistry()
	a.connectBridge(ctx, opts.HTTPClient)
	a.Remote = remote.NewClient(a.Gateway, cfg.Bridge.Name,
		remote.WithDeadline(cfg.BridgeTimeout()),
		remote.WithSettings(a.Settings),
		remote.WithCatalogHolder(a.Catalogs),
	)

	a.Agents = agent.NewLibrary(cfg.AgentsDir())
	if err := a.Agents.Reload(); err != nil {
		log.Warnf("agent library: %v", err)
	}
	return a, nil
}

func (a *App) connectBridge(ctx context.Context, client *http.Client) {
	cfg := a.Config.Bridge
	methods := cfg.Methods
	if len(methods) == 0 {
		methods = remote.AllMethods
	}

	switch a.Config.BridgeTransport() {
	case "http":
		if client == nil {
			client = &http.Client{}
		}
		a.Gateway.Register(gateway.NewHTTPBridge(cfg.Name, cfg.URL, methods, client))
	case "ws":
		dialCtx, cancel := context.WithTimeout(ctx, a.Config.BridgeTimeout())
		defer cancel()
		b, err := gateway.DialWS(dialCtx, cfg.Name, cfg.URL, methods)
		if err != nil {
			log.Warnf("bridge %s unreachable: %v", cfg.Name, err)
			return
		}
		a.Gateway.Register(b)
		a.onClose(func(context.Context) error { return b.Close() })
	}
}

// NewRunner returns an agent runner over the local client that reports to
// events.
func (a *App) NewRunner(events func(agent.Event)) *agent.Runner {
	return agent.NewRunner(a.Ollama, agent.WithEvents(events))
}

// Model resolves the model for a command: explicit flag, then the active
// model from settings, then the configured default.
func (a *App) Model(ctx context.Context, flag string) string {
	if flag != "" {
		return flag
	}
	if s, err := a.Settings.Load(ctx); err == nil && s.ActiveModel != "" {
		return s.ActiveModel
	}
	return a.Config.Local.DefaultModel
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closer = append(a.closer, fn)
}

// Close flushes pending writes, ends the usage session and releases
// everything NewApp opened, most recent first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Attachments != nil {
		a.Attachments.Wait()
	}
	if a.Usage != nil {
		if err := a.Usage.EndSession(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closer = nil
	return errors.Join(errs...)
}
