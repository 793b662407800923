// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-agent command line.
//
// Parse turns argv into a Command and Args; Run loads the configuration,
// wires an App and dispatches to the command's handler. Handlers return
// errors and never exit; Run maps errors to exit codes with ExitCodeFor and
// prints them, as a JSON envelope under --json.
//
// # Commands
//
//	chat      interactive REPL (liner) with slash commands
//	ask       one-shot question, local or through the bridge
//	pull      model download with a progress bar
//	models    local models, active model, catalog
//	attach    attachment cache
//	run       agent runs
//	agents    agent library
//	remote    bridge calls
//	keys      provider API keys
//	config    configuration
//	usage     token usage
//	status    reachability of every service
//	version   build information
//
// # Exit codes
//
//	0    success
//	1    general error
//	2    usage or invalid argument
//	3    configuration or agent definition error
//	5    local server or bridge unreachable
//	7    not found
//	8    timeout
//	130  cancelled
package cli
