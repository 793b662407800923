// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides tracing setup and token usage tracking for
// rigrun-agent.
//
// # Tracing
//
// Setup installs an OpenTelemetry tracer provider that exports spans over
// OTLP/HTTP. When tracing is disabled the global no-op provider stays in
// place, so packages can always call otel.Tracer.
//
//	shutdown, err := telemetry.Setup(ctx, telemetry.Config{Enabled: true, Endpoint: "localhost:4318"})
//	defer shutdown(context.Background())
//
// # Usage
//
// UsageTracker records prompt and completion token counts per model for the
// current session and persists sessions in the key/value store.
//
//	tracker := telemetry.NewUsageTracker(store)
//	tracker.Record("llama3.2", telemetry.SourceLocal, 120, 340, elapsed, prompt)
//	trends, _ := tracker.Trends(ctx, 7)
//
// # Privacy
//
// Nothing leaves the machine unless tracing is enabled. Usage records keep
// only the first 100 characters of each prompt.
package telemetry
