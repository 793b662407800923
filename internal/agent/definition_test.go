// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

const describeYAML = `
id: describe
name: Describe images
start: see
nodes:
  see:
    type: image_to_text
    model: llava
    inputs: [images, question]
    outputs: [notes]
    next: [answer]
  answer:
    type: chat_completion
    prompt: "Notes: ${notes}$"
    inputs: [history]
    outputs: [reply]
    next: [done]
  done:
    type: end
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(describeYAML))
	require.NoError(t, err)

	assert.Equal(t, "describe", def.ID)
	assert.Equal(t, "see", def.Start)
	require.Len(t, def.Nodes, 3)

	see, ok := def.Node("see")
	require.True(t, ok)
	assert.Equal(t, "see", see.ID)
	assert.Equal(t, NodeImageToText, see.Type)
	assert.Equal(t, "llava", see.Model)
	assert.Equal(t, []string{"images", "question"}, see.Inputs)
	next, ok := see.Successor()
	assert.True(t, ok)
	assert.Equal(t, "answer", next)

	warnings, err := def.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestParseDefinitionInvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("nodes: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		problems []string
		warnings []string
	}{
		{
			name:     "missing start and id",
			yaml:     "start: nowhere\nnodes:\n  done: {type: end}\n",
			problems: []string{"id is required", `start node "nowhere" does not exist`},
			warnings: []string{`node "done" is unreachable`},
		},
		{
			name:     "dangling next and unknown type",
			yaml:     "id: a\nstart: x\nnodes:\n  x: {type: fly, next: [ghost]}\n",
			problems: []string{`unknown type "fly"`, `points to missing node "ghost"`},
		},
		{
			name:     "non-end without successor",
			yaml:     "id: a\nstart: x\nnodes:\n  x: {type: text_completion}\n",
			problems: []string{`"x" has no successor`},
		},
		{
			name:     "branching is flagged not fixed",
			yaml:     "id: a\nstart: x\nnodes:\n  x: {type: text_completion, next: [y, z]}\n  y: {type: end}\n  z: {type: end}\n",
			warnings: []string{`lists 2 successors; only "y" is followed`, `node "z" is unreachable`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(tt.yaml))
			require.NoError(t, err)
			warnings, err := def.Validate()

			if len(tt.problems) == 0 {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				for _, p := range tt.problems {
					assert.Contains(t, err.Error(), p)
				}
			}
			joined := strings.Join(warnings, "\n")
			for _, w := range tt.warnings {
				assert.Contains(t, joined, w)
			}
			if len(tt.warnings) == 0 {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestBranchingFollowsFirstSuccessor(t *testing.T) {
	def, err := ParseDefinition([]byte("id: a\nstart: x\nnodes:\n  x: {type: text_completion, outputs: [out], next: [y, z]}\n  y: {type: end}\n  z: {type: end}\n"))
	require.NoError(t, err)
	res, err := NewRunner(&fakeModel{generate: "ok"}).Run(context.Background(), def, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "y", res.LastNode)
}

func TestVarsAccessors(t *testing.T) {
	v := Vars{
		"text":   "hi",
		"msgs":   []ollama.Message{ollama.NewUserMessage("a")},
		"list":   []any{"x", 1, "y"},
		"images": []string{"i1", "i2"},
		"num":    3,
	}
	assert.Equal(t, "hi", v.String("text"))
	assert.Equal(t, "3", v.String("num"))
	assert.Equal(t, "user: a", v.String("msgs"))
	assert.Equal(t, "", v.String(""))

	assert.Equal(t, []ollama.Message{ollama.NewUserMessage("hi")}, v.Messages("text"))
	assert.Len(t, v.Messages("msgs"), 1)
	assert.Nil(t, v.Messages("num"))

	assert.Equal(t, []string{"x", "y"}, v.Strings("list"))
	assert.Equal(t, []string{"i1", "i2"}, v.Strings("images"))
	assert.Equal(t, []string{"hi"}, v.Strings("text"))
	assert.Nil(t, v.Strings("missing"))

	c := v.Clone()
	c["text"] = "changed"
	assert.Equal(t, "hi", v["text"])
}

// =============================================================================
// LIBRARY
// =============================================================================

func writeAgent(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLibraryReload(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "describe.yaml", describeYAML)
	writeAgent(t, dir, "simple.yml", "id: simple\nname: Simple\nstart: done\nnodes:\n  done: {type: end}\n")
	writeAgent(t, dir, "broken.yaml", "id: broken\nstart: missing\nnodes:\n  done: {type: end}\n")
	writeAgent(t, dir, "dup.yaml", "id: simple\nstart: done\nnodes:\n  done: {type: end}\n")
	writeAgent(t, dir, "notes.txt", "not an agent")

	lib := NewLibrary(dir)
	require.NoError(t, lib.Reload())

	var ids []string
	for _, d := range lib.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"describe", "simple"}, ids)

	def, ok := lib.Get("describe")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "describe.yaml"), def.Path)

	errs := lib.Errors()
	assert.Len(t, errs, 2)
	assert.Contains(t, errs, filepath.Join(dir, "broken.yaml"))
}

func TestLibraryMissingDir(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, lib.Reload())
	assert.Empty(t, lib.List())
}

func TestLibraryWatch(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir)
	lib.SetDebounce(20 * time.Millisecond)
	require.NoError(t, lib.Reload())

	var reloads atomic.Int32
	lib.OnReload(func() { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeAgent(t, dir, "simple.yaml", "id: simple\nstart: done\nnodes:\n  done: {type: end}\n")

	require.Eventually(t, func() bool {
		_, ok := lib.Get("simple")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "simple.yaml")))
	require.Eventually(t, func() bool {
		_, ok := lib.Get("simple")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
