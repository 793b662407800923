// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// NODES
// =============================================================================

// NodeType tags a node.
type NodeType string

const (
	NodeTextCompletion  NodeType = "text_completion"
	NodeImageToText     NodeType = "image_to_text"
	NodeChatCompletion  NodeType = "chat_completion"
	NodeTitleGeneration NodeType = "title_generation"
	NodeEnd             NodeType = "end"
)

// IsModelNode reports whether nodes of this type call a model.
func (t NodeType) IsModelNode() bool {
	switch t {
	case NodeTextCompletion, NodeImageToText, NodeChatCompletion, NodeTitleGeneration:
		return true
	}
	return false
}

// Node is one step of a definition. Nodes are configuration; the runner never
// modifies them.
type Node struct {
	ID      string   `yaml:"-" json:"id"`
	Type    NodeType `yaml:"type" json:"type"`
	Prompt  string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	System  string   `yaml:"system,omitempty" json:"system,omitempty"`
	Inputs  []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Model   string   `yaml:"model,omitempty" json:"model,omitempty"`
	Next    []string `yaml:"next,omitempty" json:"next,omitempty"`
}

// Successor returns the node that follows n: the first entry of Next.
func (n *Node) Successor() (string, bool) {
	if len(n.Next) == 0 {
		return "", false
	}
	return n.Next[0], true
}

// Input returns the i-th input variable name, or "".
func (n *Node) Input(i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

// Output returns the i-th output variable name, or "".
func (n *Node) Output(i int) string {
	if i < len(n.Outputs) {
		return n.Outputs[i]
	}
	return ""
}

// =============================================================================
// DEFINITIONS
// =============================================================================

// Definition is an agent: its nodes and the node to start at.
type Definition struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Start       string           `yaml:"start" json:"start"`
	Nodes       map[string]*Node `yaml:"nodes" json:"nodes"`

	// Path is the file the definition was loaded from, if any.
	Path string `yaml:"-" json:"-"`
}

// ParseDefinition decodes a YAML definition and fills in node IDs.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse agent definition: %w", err)
	}
	for id, n := range def.Nodes {
		if n == nil {
			def.Nodes[id] = &Node{ID: id}
			continue
		}
		n.ID = id
	}
	return &def, nil
}

// LoadDefinition reads and parses a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Path = path
	return def, nil
}

// Node returns the node with id.
func (d *Definition) Node(id string) (*Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// ValidationError lists everything wrong with a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid agent definition: " + strings.Join(e.Problems, "; ")
}

// Validate checks that the definition can run. It returns the problems that
// make it unrunnable as a *ValidationError, and separately warnings for
// legal but suspicious shapes: nodes with more than one successor (only the
// first is ever followed) and nodes unreachable from start.
func (d *Definition) Validate() (warnings []string, err error) {
	var problems []string
	if strings.TrimSpace(d.ID) == "" {
		problems = append(problems, "id is required")
	}
	if len(d.Nodes) == 0 {
		problems = append(problems, "at least one node is required")
	}
	if _, ok := d.Nodes[d.Start]; !ok {
		problems = append(problems, fmt.Sprintf("start node %q does not exist", d.Start))
	}

	ids := make([]string, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := d.Nodes[id]
		switch n.Type {
		case NodeTextCompletion, NodeImageToText, NodeChatCompletion, NodeTitleGeneration, NodeEnd:
		case "":
			problems = append(problems, fmt.Sprintf("node %q has no type", id))
		default:
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", id, n.Type))
		}
		for _, next := range n.Next {
			if _, ok := d.Nodes[next]; !ok {
				problems = append(problems, fmt.Sprintf("node %q points to missing node %q", id, next))
			}
		}
		if n.Type != NodeEnd && len(n.Next) == 0 && n.Type != "" {
			problems = append(problems, fmt.Sprintf("node %q has no successor and is not an end node", id))
		}
		if len(n.Next) > 1 {
			warnings = append(warnings, fmt.Sprintf("node %q lists %d successors; only %q is followed", id, len(n.Next), n.Next[0]))
		}
	}

	reachable := d.reachable()
	for _, id := range ids {
		if !reachable[id] {
			warnings = append(warnings, fmt.Sprintf("node %q is unreachable from %q", id, d.Start))
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}

// reachable walks the first-successor chain from Start.
func (d *Definition) reachable() map[string]bool {
	seen := map[string]bool{}
	id := d.Start
	for {
		n, ok := d.Nodes[id]
		if !ok || seen[id] {
			return seen
		}
		seen[id] = true
		next, ok := n.Successor()
		if !ok {
			return seen
		}
		id = next
	}
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
