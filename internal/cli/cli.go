// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for rigrun-agent.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/logging"
)

var log = logging.Named("cli")

// Version information, set at build time with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is a top-level subcommand.
type Command int

const (
	CmdHelp Command = iota
	CmdChat
	CmdAsk
	CmdPull
	CmdModels
	CmdAttach
	CmdRun
	CmdAgents
	CmdRemote
	CmdKeys
	CmdConfig
	CmdUsage
	CmdStatus
	CmdVersion
	CmdUnknown
)

var commandNames = map[Command]string{
	CmdHelp:    "help",
	CmdChat:    "chat",
	CmdAsk:     "ask",
	CmdPull:    "pull",
	CmdModels:  "models",
	CmdAttach:  "attach",
	CmdRun:     "run",
	CmdAgents:  "agents",
	CmdRemote:  "remote",
	CmdKeys:    "keys",
	CmdConfig:  "config",
	CmdUsage:   "usage",
	CmdStatus:  "status",
	CmdVersion: "version",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool
	Model      string
	ConfigPath string

	// Name is the command word as typed, kept for unknown-command errors.
	Name string

	// Raw holds the arguments after the command word.
	Raw []string
}

const usageText = `rigrun-agent - local model client and agent runner
Version: %s

Usage:
  rigrun-agent [global flags] <command> [arguments]

Commands:
  chat                         Interactive chat with the local model
  ask <question>               One-shot question (--provider for a remote model)
  pull <model>                 Download a model into the local server
  models [list|rm|catalog]     Inspect local models and the remote catalog
  attach [add|list|show|rm|clear]
                               Manage cached attachments
  run <agent> [--var k=v]      Run an agent definition
  agents [list|validate|watch] Inspect the agent library
  remote [status|restart|toolkit|search|pick|validate]
                               Talk to the configured bridge
  keys [list|set|rm]           Manage provider API keys
  config [show|get|set|path|init]
                               Inspect or edit the configuration
  usage [current|trends|prune] Token usage by session
  status                       Health of the local server, bridge and store
  version                      Show version information

Global flags:
  -m, --model NAME             Model to use (overrides config)
  -c, --config PATH            Config file (TOML or JSON)
  --json                       Machine-readable output
  -q, --quiet                  Only print results
  -v, --verbose                Debug logging

Environment:
  RIGRUN_AGENT_HOME            Config directory (default ~/.rigrun-agent)
  RIGRUN_AGENT_OLLAMA_URL      Local server URL
  RIGRUN_AGENT_MODEL           Default model
  RIGRUN_AGENT_BRIDGE_URL      Bridge URL (http(s) or ws(s))
  RIGRUN_AGENT_STORE           Store backend: sqlite, file, memory
  RIGRUN_AGENT_LOG_LEVEL       debug, info, warn, error
  RIGRUN_AGENT_OTEL_ENDPOINT   OTLP/HTTP endpoint; enables tracing
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdHelp, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "chat":
		return CmdChat, args
	case "ask", "a":
		return CmdAsk, args
	case "pull":
		return CmdPull, args
	case "models", "model":
		return CmdModels, args
	case "attach", "attachments":
		return CmdAttach, args
	case "run":
		return CmdRun, args
	case "agents", "agent":
		return CmdAgents, args
	case "remote", "bridge":
		return CmdRemote, args
	case "keys", "key":
		return CmdKeys, args
	case "config":
		return CmdConfig, args
	case "usage":
		return CmdUsage, args
	case "status", "s":
		return CmdStatus, args
	case "version", "--version", "-V":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	}
	return CmdUnknown, args
}

// parseGlobalFlags extracts global flags appearing before the command word
// and anywhere after it.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var (
		remaining []string
		args      Args
	)
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--json":
			args.JSON = true
		case "-m", "--model":
			if i+1 < len(argv) {
				i++
				args.Model = argv[i]
			}
		case "-c", "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				args.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--config="):
				args.ConfigPath = strings.TrimPrefix(arg, "--config=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args
}

// =============================================================================
// DISPATCH
// =============================================================================

// handler runs one command against a wired App.
type handler func(ctx context.Context, a *App, args Args) error

var handlers = map[Command]handler{
	CmdChat:   HandleChat,
	CmdAsk:    HandleAsk,
	CmdPull:   HandlePull,
	CmdModels: HandleModels,
	CmdAttach: HandleAttach,
	CmdRun:    HandleRun,
	CmdAgents: HandleAgents,
	CmdRemote: HandleRemote,
	CmdKeys:   HandleKeys,
	CmdConfig: HandleConfig,
	CmdUsage:  HandleUsage,
	CmdStatus: HandleStatus,
}

// Run executes cmd and returns the process exit code. Every command except
// chat is cancelled by SIGINT/SIGTERM; chat handles interrupts per turn.
func Run(ctx context.Context, cmd Command, args Args) int {
	switch cmd {
	case CmdHelp:
		PrintUsage(os.Stdout)
		return ExitSuccess
	case CmdVersion:
		return exitWith(os.Stdout, cmd, args, HandleVersion(os.Stdout, args))
	case CmdUnknown:
		PrintUsage(os.Stderr)
		return exitWith(os.Stderr, cmd, args, usage(fmt.Sprintf("unknown command %q", args.Name)))
	}

	if cmd != CmdChat {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	cfg, err := loadConfig(args)
	if err != nil && cmd != CmdConfig {
		return exitWith(os.Stderr, cmd, args, err)
	}
	setupLogging(cfg, args)
	defer logging.Close()

	a, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return exitWith(os.Stderr, cmd, args, err)
	}
	a.JSON = args.JSON
	a.Quiet = args.Quiet

	err = Dispatch(ctx, a, cmd, args)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		log.Warnf("shutdown: %v", cerr)
	}
	return exitWith(a.Err, cmd, args, err)
}

// Dispatch runs cmd against an existing App.
func Dispatch(ctx context.Context, a *App, cmd Command, args Args) error {
	h, ok := handlers[cmd]
	if !ok {
		return usage(fmt.Sprintf("unknown command %q", args.Name))
	}
	log.Debugf("running %s %v", cmd, args.Raw)
	return h(ctx, a, args)
}

func exitWith(w io.Writer, cmd Command, args Args, err error) int {
	if err == nil {
		return ExitSuccess
	}
	DisplayError(w, cmd.String(), err, args.JSON)
	return ExitCodeFor(err)
}

// loadConfig reads the config file, applies the environment and validates.
// The config is returned even on error so "config" can repair it.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		if derr := config.LoadDotEnv(config.DotEnvFile); derr != nil {
			log.Warnf("dotenv: %v", derr)
		}
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyEnvOverrides()
	if err != nil {
		return cfg, NewCommandError("config", "load", "cannot read configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config, args Args) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	switch {
	case args.Verbose:
		level = logging.LevelDebug
	case args.Quiet:
		level = logging.LevelError
	case cfg.LogDir() == "" && level < logging.LevelWarn:
		// Without a log file, info lines would interleave with command output.
		level = logging.LevelWarn
	}
	if err := logging.Initialize(cfg.LogDir(), level); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", WarningStyle.Render("[WARN]"), err)
	}
}

// =============================================================================
// VERSION
// =============================================================================

// HandleVersion prints version information.
func HandleVersion(w io.Writer, args Args) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if done, err := OutputJSON(w, args.JSON, "version", data); done {
		return err
	}
	fmt.Fprintf(w, "rigrun-agent version %s\n", data.Version)
	fmt.Fprintf(w, "  Git commit: %s\n", data.GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", data.BuildDate)
	fmt.Fprintf(w, "  Go:         %s (%s)\n", data.GoVersion, data.Platform)
	return nil
}
