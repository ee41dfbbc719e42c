package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/openwork/desktop-core/internal/engine"
	"github.com/openwork/desktop-core/internal/orchestrator"
	"github.com/openwork/desktop-core/internal/runstore"
	"github.com/openwork/desktop-core/internal/sandbox"
	"github.com/openwork/desktop-core/internal/settings"
	"github.com/openwork/desktop-core/internal/supervisor"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		startCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "doctor":
		doctorCmd(os.Args[2:])
	case "sandbox-create":
		sandboxCreateCmd(os.Args[2:])
	case "sandbox-stop":
		sandboxStopCmd(os.Args[2:])
	case "sandbox-cleanup":
		sandboxCleanupCmd(os.Args[2:])
	case "sandbox-doctor":
		sandboxDoctorCmd(os.Args[2:])
	case "version":
		fmt.Printf("openwork-core %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `openwork-core

Usage:
  openwork-core start [flags]
  openwork-core status [flags]
  openwork-core doctor
  openwork-core sandbox-create [flags]
  openwork-core sandbox-stop --container <name>
  openwork-core sandbox-cleanup
  openwork-core sandbox-doctor
  openwork-core version

Commands:
  start            Start the engine, relay and optional bridge for a project directory.
  status           Print the orchestrator status for a data directory.
  doctor           Check the engine installation.
  sandbox-create   Start a detached workspace host, optionally in a docker sandbox.
  sandbox-stop     Stop one managed sandbox container.
  sandbox-cleanup  Remove every managed sandbox container.
  sandbox-doctor   Check the docker runtime.
  version          Print build information.

`)
}

// stringListFlag collects a repeatable string flag.
type stringListFlag []string

func (f *stringListFlag) String() string { return strings.Join(*f, ",") }

func (f *stringListFlag) Set(v string) error {
	if s := strings.TrimSpace(v); s != "" {
		*f = append(*f, s)
	}
	return nil
}

func startCmd(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)

	projectDir := fs.String("project-dir", "", "Project directory to host")
	mode := fs.String("mode", "direct", "Engine mode: direct|orchestrator")
	settingsPath := fs.String("settings", settings.DefaultPath(), "Settings file path")
	logFormat := fs.String("log-format", "text", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")

	var workspaces stringListFlag
	fs.Var(&workspaces, "workspace", "Extra workspace path exposed through the relay (repeatable)")

	_ = fs.Parse(args)

	if strings.TrimSpace(*projectDir) == "" {
		fs.Usage()
		os.Exit(2)
	}

	log, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg, err := settings.Load(filepath.Clean(*settingsPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}

	sup := supervisor.New(supervisor.Options{Settings: cfg, Logger: log})
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	paths := []string{strings.TrimSpace(*projectDir)}
	paths = append(paths, workspaces...)

	info, err := sup.Start(ctx, supervisor.StartOptions{
		ProjectDir:     strings.TrimSpace(*projectDir),
		Mode:           supervisor.Mode(strings.ToLower(strings.TrimSpace(*mode))),
		WorkspacePaths: paths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	printJSON(sup.Info())
	log.Info("stack started", "baseUrl", info.BaseURL, "projectDir", info.ProjectDir)

	<-ctx.Done()
	log.Info("shutting down")
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "Orchestrator data directory (default: resolved)")
	timeout := fs.Duration("timeout", 5*time.Second, "Health probe timeout")
	_ = fs.Parse(args)

	dir := strings.TrimSpace(*dataDir)
	if dir == "" {
		dir = orchestrator.ResolveDataDir()
	}
	client := &http.Client{Timeout: *timeout}
	printJSON(orchestrator.ResolveStatus(client, dir, ""))
}

func doctorCmd(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	_ = fs.Parse(args)

	result := engine.Doctor()
	printJSON(result)
	if !result.Found {
		os.Exit(1)
	}
}

func sandboxCreateCmd(args []string) {
	fs := flag.NewFlagSet("sandbox-create", flag.ExitOnError)
	workspacePath := fs.String("workspace", "", "Workspace directory for the detached host")
	backend := fs.String("backend", sandbox.BackendNone, "Sandbox backend: none|docker")
	logFormat := fs.String("log-format", "text", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	_ = fs.Parse(args)

	if strings.TrimSpace(*workspacePath) == "" {
		fs.Usage()
		os.Exit(2)
	}

	log, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctrl := newSandboxController(log, func(ev sandbox.Event) {
		b, mErr := json.Marshal(ev)
		if mErr != nil {
			return
		}
		fmt.Fprintln(os.Stderr, string(b))
	})

	host, err := ctrl.CreateDetached(context.Background(), sandbox.CreateOptions{
		WorkspacePath: strings.TrimSpace(*workspacePath),
		Backend:       strings.TrimSpace(*backend),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(host)
}

func sandboxStopCmd(args []string) {
	fs := flag.NewFlagSet("sandbox-stop", flag.ExitOnError)
	container := fs.String("container", "", "Managed container name to stop")
	_ = fs.Parse(args)

	ctrl := newSandboxController(slog.Default(), nil)
	result, err := ctrl.StopContainer(strings.TrimSpace(*container))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	printJSON(result)
	if !result.OK {
		os.Exit(1)
	}
}

func sandboxCleanupCmd(args []string) {
	fs := flag.NewFlagSet("sandbox-cleanup", flag.ExitOnError)
	_ = fs.Parse(args)

	ctrl := newSandboxController(slog.Default(), nil)
	result, err := ctrl.Cleanup(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func sandboxDoctorCmd(args []string) {
	fs := flag.NewFlagSet("sandbox-doctor", flag.ExitOnError)
	_ = fs.Parse(args)

	ctrl := newSandboxController(slog.Default(), nil)
	result := ctrl.Doctor()
	printJSON(result)
	if !result.Ready {
		os.Exit(1)
	}
}

// newSandboxController wires the controller to the run ledger in the
// orchestrator data directory; a ledger that fails to open is logged and
// skipped rather than blocking sandbox operations.
func newSandboxController(log *slog.Logger, emitter sandbox.Emitter) *sandbox.Controller {
	var runs *runstore.Store
	ledgerPath := filepath.Join(orchestrator.ResolveDataDir(), "sandbox-runs.db")
	if s, err := runstore.Open(ledgerPath); err != nil {
		log.Warn("open sandbox run ledger", "path", ledgerPath, "err", err)
	} else {
		runs = s
	}
	return sandbox.NewController(sandbox.Options{
		Logger:  log,
		Runs:    runs,
		Emitter: emitter,
	})
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

// --- logger ---

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
