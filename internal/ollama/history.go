// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

// DefaultHistoryTurns is how many non-system messages a chat request keeps.
const DefaultHistoryTurns = 8

// BuildMessages prepares the message list for a chat request: the system
// prompt (if any) first, then history right-truncated to its last turns
// non-system messages. System messages inside history are always kept and stay
// in their original relative order. A turns value <= 0 keeps everything.
func BuildMessages(systemPrompt string, history []Message, turns int) []Message {
	keepFrom := 0
	if turns > 0 {
		seen := 0
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == RoleSystem {
				continue
			}
			seen++
			if seen == turns {
				keepFrom = i
				break
			}
		}
	}

	out := make([]Message, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, NewSystemMessage(systemPrompt))
	}
	for i, m := range history {
		if i >= keepFrom || m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
