// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent runs agent definitions: small workflow graphs of typed nodes
// that thread a variable bag from node to node.
//
// A run starts at the definition's start node and follows each node's first
// successor until an end node, a failure, or a force stop. Handlers for the
// model node types call the local streaming client. Runs report progress
// through an event callback and return a RunResult; there is no shared
// "on task" state.
//
// Definitions are YAML files:
//
//	id: summarize
//	name: Summarize chat
//	start: describe
//	nodes:
//	  describe:
//	    type: image_to_text
//	    inputs: [images, question]
//	    outputs: [image_notes]
//	    next: [answer]
//	  answer:
//	    type: chat_completion
//	    prompt: "Use these notes: ${image_notes}$"
//	    inputs: [history]
//	    outputs: [reply]
//	    next: [done]
//	  done:
//	    type: end
package agent
