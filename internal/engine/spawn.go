package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// FindFreePort asks the OS for an ephemeral localhost port. The listener is
// closed before returning, so the port is free but not reserved.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %q", l.Addr())
	}
	return addr.Port, nil
}

// BuildServeArgs returns the engine's serve arguments. CORS is wide open
// since the engine may be reached from client devices or the dev UI.
func BuildServeArgs(bindHost string, port int) []string {
	return []string{
		"serve",
		"--hostname", bindHost,
		"--port", strconv.Itoa(port),
		"--cors", "*",
	}
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	Binary     string
	Hostname   string
	Port       int
	ProjectDir string
	Username   string
	Password   string

	// ExtraPathDirs are prepended to PATH ahead of the common tool
	// directories (bundled sidecar locations, typically).
	ExtraPathDirs []string

	Logger *slog.Logger
}

// Spawn launches the engine server in the project directory with the
// prepared environment: inferred XDG homes, DNS overrides, prepended PATH
// and credential variables.
func Spawn(ctx context.Context, opts SpawnOptions) (*procchild.Child, error) {
	args := BuildServeArgs(opts.Hostname, opts.Port)
	env := os.Environ()

	if base, ok := runtimeenv.MaybeInferXDGHome("XDG_DATA_HOME", runtimeenv.CandidateXDGDataDirs(), "opencode/auth.json"); ok {
		env = runtimeenv.SetEnv(env, "XDG_DATA_HOME", base)
	}
	if base, ok := inferXDGConfigHome(); ok {
		env = runtimeenv.SetEnv(env, "XDG_CONFIG_HOME", base)
	}

	env = runtimeenv.SetEnv(env, "OPENCODE_CLIENT", "openwork")
	env = runtimeenv.SetEnv(env, "OPENWORK", "1")
	env = runtimeenv.ApplyVars(env, runtimeenv.DNSOverrides())

	if pathEnv, ok := runtimeenv.PrependedPathEnv(opts.ExtraPathDirs); ok {
		env = runtimeenv.SetEnv(env, "PATH", pathEnv)
	}

	if u := strings.TrimSpace(opts.Username); u != "" {
		env = runtimeenv.SetEnv(env, "OPENCODE_SERVER_USERNAME", u)
	}
	if p := strings.TrimSpace(opts.Password); p != "" {
		env = runtimeenv.SetEnv(env, "OPENCODE_SERVER_PASSWORD", p)
	}

	child, err := procchild.Start(ctx, opts.Binary, args, procchild.Options{
		Dir:    opts.ProjectDir,
		Env:    env,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return child, nil
}

func inferXDGConfigHome() (string, bool) {
	candidates := runtimeenv.CandidateXDGConfigDirs()
	if base, ok := runtimeenv.MaybeInferXDGHome("XDG_CONFIG_HOME", candidates, "opencode/opencode.jsonc"); ok {
		return base, true
	}
	return runtimeenv.MaybeInferXDGHome("XDG_CONFIG_HOME", candidates, "opencode/opencode.json")
}
