// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides the leveled logger shared by every rigrun-agent
// package.
//
// Output goes to stderr and, once Initialize has been called, to
// rigrun-agent.log in the configured directory. Components obtain a prefixed
// logger with Named:
//
//	var log = logging.Named("ollama")
//	log.Warnf("skipping malformed line: %v", err)
//
// Packages must not import the standard log package directly; the guard
// test in this package enforces that.
package logging
