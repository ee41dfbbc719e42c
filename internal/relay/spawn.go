// Package relay manages the OpenWork relay server that exposes the local
// engine to phones and laptops on the LAN: port selection, token generation,
// connect URL derivation and the relay process registry.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// DefaultPort is preferred so clients can reconnect to a stable address.
const DefaultPort = 8787

// ResolvePort returns DefaultPort when it is free, otherwise an ephemeral
// port.
func ResolvePort() (int, error) {
	if l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", DefaultPort)); err == nil {
		_ = l.Close()
		return DefaultPort, nil
	}
	l, err := net.Listen("tcp", "0.0.0.0:0")
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

// GenerateToken mints an access token for the relay.
func GenerateToken() string {
	return uuid.NewString()
}

// BuildArgs renders the relay argument vector. CORS stays wide open because
// remote clients connect from arbitrary origins, and approval is automatic
// since the desktop user is already the authenticated host.
func BuildArgs(host string, port int, workspacePaths []string, token, hostToken, engineBaseURL, engineDirectory string) []string {
	args := []string{
		"--host", host,
		"--port", strconv.Itoa(port),
		"--token", token,
		"--host-token", hostToken,
		"--cors", "*",
		"--approval", "auto",
	}
	for _, workspace := range workspacePaths {
		if strings.TrimSpace(workspace) != "" {
			args = append(args, "--workspace", workspace)
		}
	}
	if strings.TrimSpace(engineBaseURL) != "" {
		args = append(args, "--opencode-base-url", engineBaseURL)
	}
	if strings.TrimSpace(engineDirectory) != "" {
		args = append(args, "--opencode-directory", engineDirectory)
	}
	return args
}

// ResolveBinary locates the relay server binary; OPENWORK_SERVER_BIN
// overrides the PATH lookup.
func ResolveBinary() (string, error) {
	if custom := strings.TrimSpace(os.Getenv("OPENWORK_SERVER_BIN")); custom != "" {
		if runtimeenv.IsExecutableFile(custom) {
			return custom, nil
		}
		return "", fmt.Errorf("OPENWORK_SERVER_BIN set but not executable: %s", custom)
	}
	if p := runtimeenv.ResolveInPath("openwork-server"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("openwork-server binary not found on PATH (set OPENWORK_SERVER_BIN to override)")
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	Host           string
	Port           int
	WorkspacePaths []string
	Token          string
	HostToken      string

	EngineBaseURL   string
	EngineDirectory string
	EngineUsername  string
	EnginePassword  string

	// BridgeHealthPort is exported to the relay so it can report the IPC
	// bridge health endpoint to clients. 0 omits the variable.
	BridgeHealthPort int

	Logger *slog.Logger
}

// Spawn launches the relay server in the first workspace directory.
func Spawn(ctx context.Context, o SpawnOptions) (*procchild.Child, error) {
	bin, err := ResolveBinary()
	if err != nil {
		return nil, err
	}

	dir := "."
	if len(o.WorkspacePaths) > 0 && strings.TrimSpace(o.WorkspacePaths[0]) != "" {
		dir = o.WorkspacePaths[0]
	}

	env := os.Environ()
	if u := strings.TrimSpace(o.EngineUsername); u != "" {
		env = runtimeenv.SetEnv(env, "DOWHAT_OPENCODE_USERNAME", u)
	}
	if p := strings.TrimSpace(o.EnginePassword); p != "" {
		env = runtimeenv.SetEnv(env, "DOWHAT_OPENCODE_PASSWORD", p)
	}
	if o.BridgeHealthPort > 0 {
		env = runtimeenv.SetEnv(env, "OPENCODE_ROUTER_HEALTH_PORT", strconv.Itoa(o.BridgeHealthPort))
	}
	env = runtimeenv.ApplyVars(env, runtimeenv.DNSOverrides())

	args := BuildArgs(o.Host, o.Port, o.WorkspacePaths, o.Token, o.HostToken, o.EngineBaseURL, o.EngineDirectory)
	child, err := procchild.Start(ctx, bin, args, procchild.Options{
		Dir:    dir,
		Env:    env,
		Logger: o.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start OpenWork server: %w", err)
	}
	return child, nil
}
