// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var (
	log    = logging.Named("agent")
	tracer = otel.Tracer("rigrun-agent/agent")
)

// Run errors.
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrNoSuccessor     = errors.New("node has no successor")
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrNodeFailed      = errors.New("node failed")
)

// DefaultMaxSteps bounds a run so that a cyclic chain cannot spin forever.
const DefaultMaxSteps = 64

// =============================================================================
// EVENTS
// =============================================================================

// EventKind tags an Event.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventNodeStarted  EventKind = "node_started"
	EventNodeToken    EventKind = "node_token"
	EventNodeFinished EventKind = "node_finished"
	EventRunFinished  EventKind = "run_finished"
)

// Event reports run progress to an observer.
type Event struct {
	Kind     EventKind
	RunID    string
	AgentID  string
	NodeID   string
	NodeType NodeType
	// Text is the streamed delta for node_token events.
	Text string
	// OK is set on node_finished.
	OK bool
	// Status is set on run_finished.
	Status RunStatus
	Err    error
	Time   time.Time
}

// =============================================================================
// RESULT
// =============================================================================

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// RunResult is what Run returns. Vars holds the bag as of the last node that
// succeeded.
type RunResult struct {
	RunID    string
	AgentID  string
	Status   RunStatus
	Vars     Vars
	LastNode string
	Steps    int
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes agent definitions. A Runner holds no per-run state and may
// run several definitions concurrently.
type Runner struct {
	handlers map[NodeType]Handler
	maxSteps int
	onEvent  func(Event)
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithHandler registers or replaces the handler for a node type.
func WithHandler(t NodeType, h Handler) Option {
	return func(r *Runner) { r.handlers[t] = h }
}

// WithEvents sets the observer for every run.
func WithEvents(fn func(Event)) Option {
	return func(r *Runner) { r.onEvent = fn }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithClock sets the time source for events and results.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner with the built-in handlers bound to model.
// A nil model leaves only the end handler, which suits tests that register
// their own.
func NewRunner(model Model, opts ...Option) *Runner {
	r := &Runner{
		handlers: map[NodeType]Handler{},
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
	}
	if model != nil {
		r.handlers = BuiltinHandlers(model)
	} else {
		r.handlers[NodeEnd] = BuiltinHandlers(nil)[NodeEnd]
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes def from its start node with a copy of vars. It follows each
// node's first successor until an end node completes the run. A failing
// handler, a missing node, an unknown node type, or a non-end node without a
// successor fail the run. tok is checked after each node; once stopped the run
// ends with RunStopped. A nil tok is replaced by one derived from ctx.
//
// Run never returns a nil result; the returned error equals result.Err.
func (r *Runner) Run(ctx context.Context, def *Definition, vars Vars, tok *cancel.Token) (*RunResult, error) {
	if tok == nil {
		tok = cancel.New(ctx)
		defer tok.CancelWithReason("run finished")
	}
	res := &RunResult{
		RunID:   uuid.NewString(),
		AgentID: def.ID,
		Vars:    vars.Clone(),
		Started: r.now(),
	}

	ctx, span := tracer.Start(tok.Context(), "agent.run")
	span.SetAttributes(attribute.String("agent.id", def.ID), attribute.String("run.id", res.RunID))
	defer span.End()

	r.emit(Event{Kind: EventRunStarted, RunID: res.RunID, AgentID: def.ID})
	log.Debugf("run %s: agent %s starting at %q", res.RunID, def.ID, def.Start)

	r.execute(ctx, def, tok, res)

	res.Finished = r.now()
	span.SetAttributes(attribute.String("run.status", string(res.Status)), attribute.Int("run.steps", res.Steps))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	r.emit(Event{Kind: EventRunFinished, RunID: res.RunID, AgentID: def.ID, NodeID: res.LastNode, Status: res.Status, Err: res.Err})
	log.Infof("run %s: agent %s %s after %d steps", res.RunID, def.ID, res.Status, res.Steps)
	return res, res.Err
}

func (r *Runner) execute(ctx context.Context, def *Definition, tok *cancel.Token, res *RunResult) {
	fail := func(err error) {
		res.Status = RunFailed
		res.Err = err
	}

	if tok.Stopped() {
		res.Status = RunStopped
		return
	}

	id := def.Start
	for {
		if res.Steps >= r.maxSteps {
			fail(fmt.Errorf("%w: %d steps without reaching an end node", ErrStepLimit, res.Steps))
			return
		}
		node, found := def.Node(id)
		if !found {
			fail(fmt.Errorf("%w: %q", ErrNodeNotFound, id))
			return
		}
		h, known := r.handlers[node.Type]
		if !known {
			log.Warnf("run %s: node %s has unknown type %q, halting", res.RunID, node.ID, node.Type)
			fail(fmt.Errorf("%w: %q at node %s", ErrUnknownNodeType, node.Type, node.ID))
			return
		}

		out := r.step(ctx, def, node, h, tok, res)
		if !out.OK {
			err := out.Err
			if err == nil {
				err = fmt.Errorf("%w: %s", ErrNodeFailed, node.ID)
			}
			fail(err)
			return
		}
		if out.Vars != nil {
			res.Vars = out.Vars
		}
		res.LastNode = node.ID
		res.Steps++

		if tok.Stopped() {
			log.Debugf("run %s: stopped after node %s (%s)", res.RunID, node.ID, tok.Reason())
			res.Status = RunStopped
			return
		}
		if node.Type == NodeEnd {
			res.Status = RunCompleted
			return
		}
		next, ok := node.Successor()
		if !ok {
			fail(fmt.Errorf("%w: %s", ErrNoSuccessor, node.ID))
			return
		}
		id = next
	}
}

func (r *Runner) step(ctx context.Context, def *Definition, node *Node, h Handler, tok *cancel.Token, res *RunResult) (out Result) {
	ctx, span := tracer.Start(ctx, "agent.node")
	span.SetAttributes(attribute.String("node.id", node.ID), attribute.String("node.type", string(node.Type)))
	defer span.End()

	r.emit(Event{Kind: EventNodeStarted, RunID: res.RunID, AgentID: def.ID, NodeID: node.ID, NodeType: node.Type})
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("run %s: node %s panicked: %v", res.RunID, node.ID, p)
			out = Result{Err: fmt.Errorf("%w: %s panicked: %v", ErrNodeFailed, node.ID, p)}
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		r.emit(Event{Kind: EventNodeFinished, RunID: res.RunID, AgentID: def.ID, NodeID: node.ID, NodeType: node.Type, OK: out.OK, Err: out.Err})
	}()

	return h.Handle(ctx, Call{
		RunID: res.RunID,
		Node:  node,
		Vars:  res.Vars.Clone(),
		Token: tok,
		Emit: func(ev Event) {
			ev.RunID = res.RunID
			ev.AgentID = def.ID
			r.emit(ev)
		},
	})
}

func (r *Runner) emit(ev Event) {
	if r.onEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	r.onEvent(ev)
}
