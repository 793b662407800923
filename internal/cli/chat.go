// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   rigrun-agent chat
//   rigrun-agent chat --model qwen2.5:14b
//   rigrun-agent chat --provider openai -m gpt-4o
//
// Flags:
//   -p, --provider NAME   Chat with a remote provider through the bridge
//   -s, --system TEXT     System prompt
//
// Interactive commands:
//   /help, /h             Show commands
//   /clear, /c            Clear the conversation
//   /model [name]         Show or switch model
//   /provider [name]      Show or switch provider ("ollama" for local)
//   /system [text]        Show or set the system prompt
//   /attach PATH|ID       Attach an image to the next message
//   /title                Generate a title for the conversation
//   /history              Show the conversation
//   /status               Show session usage
//   /quit, /q             Exit
//   Ctrl+C                Cancel the current reply
//   Ctrl+D                Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-agent/internal/cancel"
	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/remote"
	"github.com/jeranaias/rigrun-agent/internal/settings"
)

// ChatHistoryFile is the prompt history kept in the config dir.
const ChatHistoryFile = "chat_history"

var chatCommands = []string{
	"/help", "/clear", "/model", "/provider", "/system",
	"/attach", "/title", "/history", "/status", "/quit",
}

// lineReader is the part of liner the chat loop uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// chatSession is the state of one chat.
type chatSession struct {
	app      *App
	provider string
	model    string
	system   string
	history  []ollama.Message
	pending  []string
	title    string

	// interrupts delivers Ctrl+C while a reply streams.
	interrupts <-chan os.Signal
}

// =============================================================================
// LINER WRAPPER
// =============================================================================

// ChatCLI owns the liner state and its history file.
type ChatCLI struct {
	line        *liner.State
	historyPath string
}

// NewChatCLI creates the line editor with completion for slash commands.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		if !strings.HasPrefix(s, "/") {
			return nil
		}
		var out []string
		for _, c := range chatCommands {
			if strings.HasPrefix(c, s) {
				out = append(out, c)
			}
		}
		return out
	})

	c := &ChatCLI{line: line}
	if dir, err := config.ConfigDir(); err == nil {
		c.historyPath = filepath.Join(dir, ChatHistoryFile)
	}
	return c
}

// LoadHistory reads prompt history, ignoring a missing file.
func (c *ChatCLI) LoadHistory() {
	if c.historyPath == "" {
		return
	}
	f, err := os.Open(c.historyPath)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := c.line.ReadHistory(f); err != nil {
		log.Debugf("chat history: %v", err)
	}
}

// SaveHistory writes prompt history.
func (c *ChatCLI) SaveHistory() {
	if c.historyPath == "" {
		return
	}
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		log.Warnf("chat history: %v", err)
		return
	}
	defer f.Close()
	if _, err := c.line.WriteHistory(f); err != nil {
		log.Warnf("chat history: %v", err)
	}
}

func (c *ChatCLI) Prompt(prompt string) (string, error) { return c.line.Prompt(prompt) }

func (c *ChatCLI) AppendHistory(item string) { c.line.AppendHistory(item) }

// Close restores the terminal.
func (c *ChatCLI) Close() error { return c.line.Close() }

// =============================================================================
// COMMAND
// =============================================================================

// HandleChat handles "chat".
func HandleChat(ctx context.Context, a *App, args Args) error {
	p := NewArgParser(args.Raw)

	s := &chatSession{
		app:      a,
		provider: p.Flag("provider", "p"),
		system:   p.Flag("system", "s"),
	}
	s.model = args.Model
	if s.model == "" && (s.provider == "" || s.provider == "ollama") {
		s.model = a.Model(ctx, "")
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	s.interrupts = interrupts

	cli := NewChatCLI()
	cli.LoadHistory()
	defer func() {
		cli.SaveHistory()
		cli.Close()
	}()

	if !a.Quiet {
		fmt.Fprintln(a.Out, TitleStyle.Render("rigrun-agent chat"))
		fmt.Fprintln(a.Out, DimStyle.Render(fmt.Sprintf("model %s · /help for commands · Ctrl+D to exit", s.describeTarget())))
	}
	return s.loop(ctx, cli)
}

func (s *chatSession) describeTarget() string {
	if s.provider != "" && s.provider != "ollama" {
		return s.provider + "/" + s.model
	}
	return s.model
}

// loop reads lines until EOF, /quit or ctx ends.
func (s *chatSession) loop(ctx context.Context, in lineReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Prompt("> ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(s.app.Out)
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		in.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				DisplayError(s.app.Out, "chat", err, false)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := s.send(ctx, line); err != nil {
			DisplayError(s.app.Out, "chat", err, false)
		}
	}
}

// send runs one turn. Ctrl+C cancels the reply and keeps the partial text.
func (s *chatSession) send(ctx context.Context, text string) error {
	user := ollama.NewUserMessage(text)
	t := turn{
		Provider: s.provider,
		Model:    s.model,
		System:   s.system,
		Messages: append(append([]ollama.Message(nil), s.history...), user),
		Images:   s.pending,
	}
	if len(t.Images) > 0 && t.local() {
		t.Model = ""
	}

	tok := cancel.New(ctx)
	defer tok.Cancel()
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-s.interrupts:
			tok.CancelWithReason("interrupted")
		case <-stopWatch:
		}
	}()

	r, err := s.app.complete(ctx, t, tok, func(delta string) {
		fmt.Fprint(s.app.Out, delta)
	})
	fmt.Fprintln(s.app.Out)
	if err != nil {
		return err
	}
	s.pending = nil

	if r.State == ollama.StateCancelled {
		fmt.Fprintln(s.app.Out, WarningStyle.Render("[cancelled]"))
	}
	s.history = append(s.history, user)
	if r.Text != "" {
		s.history = append(s.history, ollama.NewAssistantMessage(r.Text))
	}
	if !s.app.Quiet {
		fmt.Fprintln(s.app.Out, DimStyle.Render(turnSummary(r)))
	}
	return nil
}

// command runs a slash command and reports whether chat should end.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	out := s.app.Out

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h":
		for _, c := range chatCommands {
			fmt.Fprintln(out, "  "+c)
		}

	case "/clear", "/c":
		s.history = nil
		s.pending = nil
		s.title = ""
		fmt.Fprintln(out, SuccessStyle.Render("conversation cleared"))

	case "/model":
		if arg == "" {
			printField(out, "model", s.describeTarget())
			break
		}
		s.model = arg
		if s.provider == "" || s.provider == "ollama" {
			if err := s.app.Settings.Update(ctx, func(st *settings.Settings) { st.ActiveModel = arg }); err != nil {
				return false, err
			}
		}
		printField(out, "model", s.describeTarget())

	case "/provider":
		if arg == "" {
			printField(out, "provider", orDefault(s.provider, "ollama"))
			break
		}
		if arg == "ollama" || arg == "local" {
			arg = ""
		} else if !s.app.Remote.Available(remote.MethodStreamStart) {
			return false, fmt.Errorf("no bridge is configured for remote providers")
		}
		s.provider = arg
		printField(out, "provider", orDefault(s.provider, "ollama"))

	case "/system":
		if arg != "" {
			s.system = arg
		}
		printField(out, "system", orDefault(s.system, "(none)"))

	case "/attach":
		if arg == "" {
			return false, usage("/attach PATH|ID")
		}
		ids, paths := []string{arg}, []string(nil)
		if _, err := os.Stat(arg); err == nil {
			ids, paths = nil, []string{arg}
		}
		images, err := s.app.collectImages(ctx, paths, ids)
		if err != nil {
			return false, err
		}
		s.pending = append(s.pending, images...)
		fmt.Fprintf(out, "%d image(s) attached to the next message\n", len(s.pending))

	case "/title":
		if len(s.history) == 0 {
			return false, fmt.Errorf("nothing to title yet")
		}
		title, err := s.app.Ollama.GenerateTitle(ctx, s.app.Model(ctx, ""), s.history, "")
		if err != nil {
			return false, err
		}
		s.title = title
		printField(out, "title", title)

	case "/history":
		for _, m := range s.history {
			fmt.Fprintf(out, "%s %s\n", PromptStyle.Render(m.Role+":"), m.Content)
		}

	case "/status":
		cur := s.app.Usage.Current()
		tokens := cur.Tokens()
		printField(out, "queries", cur.Queries)
		printField(out, "tokens in/out", fmt.Sprintf("%d / %d", tokens.Input, tokens.Output))
		printField(out, "time", formatDuration(cur.Duration))
		printField(out, "turns", len(s.history)/2)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
