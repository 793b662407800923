// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// run.go - Agent runs and the agent library.
//
// Command: run
// Short:   Run an agent definition
//
// Examples:
//   rigrun-agent run summarise --var topic=golang
//   rigrun-agent run ./agents/review.yaml --vars-file inputs.yaml
//   rigrun-agent run caption --var images='["<base64>"]' --output caption
//
// Flags:
//   --var KEY=VALUE       Initial variable (repeatable); JSON values decode
//   --vars-file PATH      YAML or JSON object of initial variables
//   --output NAME         Print only this variable
//   --max-steps N         Step limit (default 64)
//
// Command: agents
// Short:   Inspect the agent library
//
// Subcommands:
//   list (default)        Loaded definitions and files that failed to load
//   show ID               One definition's nodes
//   validate [PATH|ID]    Validate one definition, or the whole library
//   watch                 Reload on every change until interrupted

package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-agent/internal/agent"
	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/gateway"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/telemetry"
)

// HandleRun handles "run".
func HandleRun(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)
	target := p.Positional(0)
	if target == "" {
		return usage("rigrun-agent run <agent|file.yaml> [--var key=value]...")
	}

	def, err := a.resolveDefinition(target)
	if err != nil {
		return err
	}
	warnings, err := def.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		if !a.Quiet {
			fmt.Fprintf(a.Err, "%s %s\n", WarningStyle.Render("[WARN]"), w)
		}
	}

	vars, err := loadRunVars(p)
	if err != nil {
		return err
	}

	opts := []agent.Option{agent.WithEvents(runEventPrinter(a))}
	if n := p.FlagIntOrDefault("max-steps", 0); n > 0 {
		opts = append(opts, agent.WithMaxSteps(n))
	}
	runner := agent.NewRunner(a.Ollama, opts...)

	tok := cancel.New(ctx)
	defer tok.Cancel()

	res, runErr := runner.Run(ctx, def, vars, tok)
	a.Usage.Record(def.ID, telemetry.SourceAgent, 0, 0, res.Duration(), fmt.Sprintf("agent %s (%d steps)", def.ID, res.Steps))

	if a.JSON {
		data := RunData{
			RunID:      res.RunID,
			AgentID:    res.AgentID,
			Status:     string(res.Status),
			LastNode:   res.LastNode,
			Steps:      res.Steps,
			DurationMs: res.Duration().Milliseconds(),
			Vars:       res.Vars,
		}
		if runErr != nil {
			data.Error = runErr.Error()
		}
		if err := NewJSONResponse("run", data).Print(a.Out); err != nil {
			return err
		}
	} else if runErr == nil {
		printRunOutput(a, res, p.Flag("output"))
	}

	switch {
	case runErr != nil:
		return runErr
	case res.Status == agent.RunStopped:
		return gateway.New(gateway.CodeRequestCancelled, "run stopped")
	}
	return nil
}

// resolveDefinition loads a YAML file when target names one, otherwise looks
// the id up in the library.
func (a *App) resolveDefinition(target string) (*agent.Definition, error) {
	if strings.HasSuffix(target, ".yaml") || strings.HasSuffix(target, ".yml") {
		if _, err := os.Stat(target); err == nil {
			return agent.LoadDefinition(target)
		}
	}
	def, ok := a.Agents.Get(target)
	if !ok {
		return nil, NewNotFoundError("agent", target)
	}
	return def, nil
}

// loadRunVars merges --vars-file with --var, the flags winning.
func loadRunVars(p *ArgParser) (agent.Vars, error) {
	vars := agent.Vars{}
	if path := p.Flag("vars-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewCommandError("run", "read vars", path, err)
		}
		var fromFile map[string]any
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, NewValidationError("vars-file", path, err.Error())
		}
		vars.Merge(fromFile)
	}
	flagVars, err := ParseVars(p.Flags("var"))
	if err != nil {
		return nil, err
	}
	vars.Merge(flagVars)
	return vars, nil
}

// runEventPrinter shows node progress and streamed text. JSON and quiet
// modes print nothing while the run is going.
func runEventPrinter(a *App) func(agent.Event) {
	if a.JSON || a.Quiet {
		return nil
	}
	streaming := false
	return func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventNodeStarted:
			fmt.Fprintf(a.Err, "%s %s %s\n", PromptStyle.Render("→"), ev.NodeID, DimStyle.Render("("+string(ev.NodeType)+")"))
		case agent.EventNodeToken:
			streaming = true
			fmt.Fprint(a.Err, DimStyle.Render(ev.Text))
		case agent.EventNodeFinished:
			if streaming {
				fmt.Fprintln(a.Err)
				streaming = false
			}
			if !ev.OK {
				fmt.Fprintf(a.Err, "  %s %v\n", ErrorStyle.Render("failed:"), ev.Err)
			}
		case agent.EventRunFinished:
			fmt.Fprintf(a.Err, "%s run %s %s\n", DimStyle.Render("·"), ev.RunID, statusWord(ev.Status == agent.RunCompleted, string(ev.Status), string(ev.Status)))
		}
	}
}

// printRunOutput prints one variable, or every variable sorted by name.
func printRunOutput(a *App, res *agent.RunResult, only string) {
	if only != "" {
		fmt.Fprintln(a.Out, res.Vars.String(only))
		return
	}
	names := make([]string, 0, len(res.Vars))
	for k := range res.Vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(a.Out, "%s\n%s\n\n", SectionStyle.Render(k), ollama.FormatValue(res.Vars[k]))
	}
}

// =============================================================================
// AGENTS
// =============================================================================

// agentView is the JSON shape of a library entry.
type agentView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	Nodes       int      `json:"nodes"`
	Path        string   `json:"path,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func viewOf(def *agent.Definition) agentView {
	warnings, _ := def.Validate()
	return agentView{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Start:       def.Start,
		Nodes:       len(def.Nodes),
		Path:        def.Path,
		Warnings:    warnings,
	}
}

// HandleAgents handles "agents".
func HandleAgents(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)

	switch p.Subcommand() {
	case "", "list", "ls":
		return agentsList(a)
	case "show":
		id := p.Positional(1)
		if id == "" {
			return usage("rigrun-agent agents show <id>")
		}
		def, err := a.resolveDefinition(id)
		if err != nil {
			return err
		}
		if done, err := OutputJSON(a.Out, a.JSON, "agents", def); done {
			return err
		}
		printField(a.Out, "id", def.ID)
		printField(a.Out, "name", orDefault(def.Name, "-"))
		printField(a.Out, "start", def.Start)
		for id := def.Start; id != ""; {
			node, ok := def.Node(id)
			if !ok {
				break
			}
			fmt.Fprintf(a.Out, "  %s %s\n", PadRight(node.ID, 20), DimStyle.Render(string(node.Type)))
			next, ok := node.Successor()
			if !ok || next == def.Start {
				break
			}
			id = next
		}
		return nil
	case "validate":
		return agentsValidate(a, p.Positional(1))
	case "watch":
		return agentsWatch(ctx, a)
	}
	return usage("rigrun-agent agents [list|show|validate|watch]")
}

func agentsList(a *App) error {
	defs := a.Agents.List()
	views := make([]agentView, 0, len(defs))
	for _, d := range defs {
		views = append(views, viewOf(d))
	}
	loadErrs := a.Agents.Errors()

	if a.JSON {
		errs := make(map[string]string, len(loadErrs))
		for path, err := range loadErrs {
			errs[path] = err.Error()
		}
		return NewJSONResponse("agents", map[string]any{
			"dir":    a.Agents.Dir(),
			"agents": views,
			"errors": errs,
		}).Print(a.Out)
	}

	if len(views) == 0 && len(loadErrs) == 0 {
		fmt.Fprintf(a.Out, "no agents in %s\n", a.Agents.Dir())
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(a.Out, "%s%s%s\n", PadRight(v.ID, 24), PadRight(fmt.Sprintf("%d nodes", v.Nodes), 10), DimStyle.Render(v.Description))
	}
	paths := make([]string, 0, len(loadErrs))
	for path := range loadErrs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(a.Out, "%s %s: %v\n", ErrorStyle.Render("[INVALID]"), path, loadErrs[path])
	}
	return nil
}

// agentsValidate validates one target, or reports the library's load errors.
func agentsValidate(a *App, target string) error {
	if target != "" {
		def, err := a.resolveDefinition(target)
		if err != nil {
			return err
		}
		warnings, err := def.Validate()
		if err != nil {
			return err
		}
		if done, jerr := OutputJSON(a.Out, a.JSON, "agents", viewOf(def)); done {
			return jerr
		}
		for _, w := range warnings {
			fmt.Fprintf(a.Out, "%s %s\n", WarningStyle.Render("[WARN]"), w)
		}
		fmt.Fprintf(a.Out, "%s %s\n", SuccessStyle.Render("[OK]"), def.ID)
		return nil
	}

	if err := agentsList(a); err != nil {
		return err
	}
	if n := len(a.Agents.Errors()); n > 0 {
		return NewCommandError("agents", "validate", fmt.Sprintf("%d definition(s) failed to load", n), nil)
	}
	return nil
}

// agentsWatch reloads the library on change and prints each result.
func agentsWatch(ctx context.Context, a *App) error {
	a.Agents.OnReload(func() {
		fmt.Fprintf(a.Out, "%s reloaded: %d agent(s), %d error(s)\n",
			DimStyle.Render("·"), len(a.Agents.List()), len(a.Agents.Errors()))
		for path, err := range a.Agents.Errors() {
			fmt.Fprintf(a.Out, "  %s %s: %v\n", ErrorStyle.Render("[INVALID]"), path, err)
		}
	})
	fmt.Fprintf(a.Out, "watching %s (Ctrl+C to stop)\n", a.Agents.Dir())
	return a.Agents.Watch(ctx)
}
