// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// pull.go - Model downloads with live progress.
//
// Command: pull
// Short:   Download a model into the local server
//
// Examples:
//   rigrun-agent pull llama3.2
//   rigrun-agent pull llava --json
//
// On a terminal a progress bar is shown and Ctrl+C cancels the download.
// Piped output gets a throttled progress line instead.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// pullLineInterval throttles progress lines on non-terminal output.
const pullLineInterval = 500 * time.Millisecond

// HandlePull handles "pull".
func HandlePull(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)
	name := p.Positional(0)
	if name == "" {
		name = args.Model
	}
	if name == "" {
		return usage("rigrun-agent pull <model>")
	}

	tok := cancel.New(ctx)
	defer tok.Cancel()

	start := time.Now()
	var err error
	if a.TTY && !a.JSON && !a.Quiet {
		err = pullInteractive(ctx, a, name, tok)
	} else {
		err = a.Ollama.PullModel(ctx, name, pullPrinter(a.Out, a.JSON || a.Quiet), tok)
	}
	if err != nil {
		return err
	}

	if done, jerr := OutputJSON(a.Out, a.JSON, "pull", map[string]any{
		"model":      name,
		"status":     "success",
		"durationMs": time.Since(start).Milliseconds(),
	}); done {
		return jerr
	}
	fmt.Fprintf(a.Out, "%s pulled %s in %s\n", SuccessStyle.Render("[OK]"), name, formatDuration(time.Since(start)))
	return nil
}

// pullPrinter prints progress lines at most every pullLineInterval, plus
// every status change. silent prints nothing.
func pullPrinter(w io.Writer, silent bool) ollama.Sink {
	if silent {
		return nil
	}
	throttle := rate.Sometimes{Interval: pullLineInterval}
	lastStatus := ""
	return func(ev ollama.ProgressEvent) {
		if ev.Kind != ollama.EventProgress {
			return
		}
		line := func() {
			fmt.Fprintf(w, "%s %3d%% (%s / %s)\n", ev.Status, ev.Percent, formatBytes(ev.Completed), formatBytes(ev.Total))
		}
		if ev.Status != lastStatus {
			lastStatus = ev.Status
			line()
			return
		}
		throttle.Do(line)
	}
}

// =============================================================================
// INTERACTIVE PROGRESS
// =============================================================================

type pullEventMsg ollama.ProgressEvent

type pullDoneMsg struct{ err error }

// pullModel is the bubbletea model behind the progress display.
type pullModel struct {
	name    string
	spinner spinner.Model
	bar     progress.Model
	last    ollama.ProgressEvent
	done    bool
	err     error
	cancel  func()
}

func newPullModel(name string, cancel func()) pullModel {
	return pullModel{
		name:    name,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:  cancel,
	}
}

func (m pullModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m pullModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-40))
		return m, nil
	case pullEventMsg:
		if msg.Kind == ollama.EventProgress {
			m.last = ollama.ProgressEvent(msg)
		}
		return m, nil
	case pullDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m pullModel) View() string {
	if m.done {
		return ""
	}
	status := m.last.Status
	if status == "" {
		status = "pulling " + m.name
	}
	if m.last.Total <= 0 {
		return fmt.Sprintf("%s %s\n", m.spinner.View(), status)
	}
	return fmt.Sprintf("%s %s\n  %s %s / %s\n",
		m.spinner.View(), Truncate(status, 40),
		m.bar.ViewAs(float64(m.last.Percent)/100),
		formatBytes(m.last.Completed), formatBytes(m.last.Total))
}

// pullInteractive runs the pull under a bubbletea program. The program owns
// the terminal, so Ctrl+C arrives as a key and cancels tok.
func pullInteractive(ctx context.Context, a *App, name string, tok *cancel.Token) error {
	prog := tea.NewProgram(newPullModel(name, tok.Cancel), tea.WithOutput(a.Out))

	result := make(chan error, 1)
	go func() {
		err := a.Ollama.PullModel(ctx, name, func(ev ollama.ProgressEvent) {
			prog.Send(pullEventMsg(ev))
		}, tok)
		result <- err
		prog.Send(pullDoneMsg{err: err})
	}()

	if _, err := prog.Run(); err != nil {
		tok.Cancel()
		<-result
		return err
	}
	return <-result
}
