package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// SpawnOptions configures the daemon launch. The flag names mirror the
// orchestrator CLI; the "opencode" flags describe the engine the daemon
// supervises on our behalf.
type SpawnOptions struct {
	DataDir    string
	DaemonHost string
	DaemonPort int

	EngineBin      string
	EngineHost     string
	EngineWorkdir  string
	EnginePort     int // 0 lets the daemon pick
	EngineUsername string
	EnginePassword string
	CORS           string

	// ExtraPathDirs are prepended to the daemon's PATH.
	ExtraPathDirs []string

	Logger *slog.Logger
}

// BuildDaemonArgs renders the `daemon run` argument vector. --allow-external
// is always passed so LAN clients can reach the supervised engine.
func BuildDaemonArgs(o SpawnOptions) []string {
	args := []string{
		"daemon", "run",
		"--data-dir", o.DataDir,
		"--daemon-host", o.DaemonHost,
		"--daemon-port", strconv.Itoa(o.DaemonPort),
		"--opencode-bin", o.EngineBin,
		"--opencode-host", o.EngineHost,
		"--opencode-workdir", o.EngineWorkdir,
		"--allow-external",
	}
	if o.EnginePort > 0 {
		args = append(args, "--opencode-port", strconv.Itoa(o.EnginePort))
	}
	if u := strings.TrimSpace(o.EngineUsername); u != "" {
		args = append(args, "--opencode-username", u)
	}
	if p := strings.TrimSpace(o.EnginePassword); p != "" {
		args = append(args, "--opencode-password", p)
	}
	if c := strings.TrimSpace(o.CORS); c != "" {
		args = append(args, "--cors", c)
	}
	return args
}

// ResolveDaemonBinary locates the orchestrator binary: an explicit
// OPENWORK_ORCHESTRATOR_BIN override, then PATH under its dedicated name,
// then the combined CLI.
func ResolveDaemonBinary() (string, error) {
	if custom := strings.TrimSpace(os.Getenv("OPENWORK_ORCHESTRATOR_BIN")); custom != "" {
		if runtimeenv.IsExecutableFile(custom) {
			return custom, nil
		}
		return "", fmt.Errorf("OPENWORK_ORCHESTRATOR_BIN set but not executable: %s", custom)
	}

	searched := make([]string, 0, 2)
	for _, name := range []string{"openwork-orchestrator", "openwork"} {
		if p := runtimeenv.ResolveInPath(name); p != "" {
			return p, nil
		}
		searched = append(searched, name)
	}
	return "", fmt.Errorf("orchestrator binary not found (searched PATH for %s; set OPENWORK_ORCHESTRATOR_BIN to override)", strings.Join(searched, ", "))
}

// Spawn launches the orchestrator daemon with a prepended PATH and the DNS
// overrides applied.
func Spawn(ctx context.Context, o SpawnOptions) (*procchild.Child, error) {
	bin, err := ResolveDaemonBinary()
	if err != nil {
		return nil, err
	}

	env := os.Environ()
	if pathEnv, ok := runtimeenv.PrependedPathEnv(o.ExtraPathDirs); ok {
		env = runtimeenv.SetEnv(env, "PATH", pathEnv)
	}
	env = runtimeenv.ApplyVars(env, runtimeenv.DNSOverrides())

	child, err := procchild.Start(ctx, bin, BuildDaemonArgs(o), procchild.Options{
		Env:    env,
		Logger: o.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start orchestrator: %w", err)
	}
	return child, nil
}
