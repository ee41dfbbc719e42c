// Package bridge manages the IPC bridge that routes editor traffic into the
// engine over a local health-monitored process.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/openwork/desktop-core/internal/output"
	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// DefaultHealthPort is preferred for the bridge's health endpoint.
const DefaultHealthPort = 3005

// ResolveHealthPort returns DefaultHealthPort when free, otherwise an
// ephemeral port.
func ResolveHealthPort() (int, error) {
	if l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", DefaultHealthPort)); err == nil {
		_ = l.Close()
		return DefaultHealthPort, nil
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

// BuildArgs renders the bridge argument vector: serve the workspace,
// optionally pointing at an explicit engine URL.
func BuildArgs(workspacePath, engineURL string) []string {
	args := []string{"serve", workspacePath}
	if trimmed := strings.TrimSpace(engineURL); trimmed != "" {
		args = append(args, "--opencode-url", trimmed)
	}
	return args
}

// ResolveBinary locates the bridge binary; OPENCODE_ROUTER_BIN overrides the
// PATH lookup.
func ResolveBinary() (string, error) {
	if custom := strings.TrimSpace(os.Getenv("OPENCODE_ROUTER_BIN")); custom != "" {
		if runtimeenv.IsExecutableFile(custom) {
			return custom, nil
		}
		return "", fmt.Errorf("OPENCODE_ROUTER_BIN set but not executable: %s", custom)
	}
	if p := runtimeenv.ResolveInPath("opencode-router"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("opencode-router binary not found on PATH (set OPENCODE_ROUTER_BIN to override)")
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	WorkspacePath string
	EngineURL     string
	Username      string
	Password      string
	HealthPort    int
	Logger        *slog.Logger
}

// Spawn launches the bridge in the workspace directory with the health port
// and engine credentials exported.
func Spawn(ctx context.Context, o SpawnOptions) (*procchild.Child, error) {
	bin, err := ResolveBinary()
	if err != nil {
		return nil, err
	}

	env := os.Environ()
	env = runtimeenv.SetEnv(env, "OPENCODE_ROUTER_HEALTH_PORT", strconv.Itoa(o.HealthPort))
	if u := strings.TrimSpace(o.Username); u != "" {
		env = runtimeenv.SetEnv(env, "OPENCODE_SERVER_USERNAME", u)
	}
	if p := strings.TrimSpace(o.Password); p != "" {
		env = runtimeenv.SetEnv(env, "OPENCODE_SERVER_PASSWORD", p)
	}
	env = runtimeenv.ApplyVars(env, runtimeenv.DNSOverrides())

	child, err := procchild.Start(ctx, bin, BuildArgs(o.WorkspacePath, o.EngineURL), procchild.Options{
		Dir:    o.WorkspacePath,
		Env:    env,
		Logger: o.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start opencode-router: %w", err)
	}
	return child, nil
}

// Info is a point-in-time snapshot of the bridge registry.
type Info struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	EngineURL     string `json:"opencodeUrl,omitempty"`
	HealthPort    int    `json:"healthPort,omitempty"`
	LastStdout    string `json:"lastStdout,omitempty"`
	LastStderr    string `json:"lastStderr,omitempty"`
}

// Manager is the bridge process registry.
type Manager struct {
	mu sync.Mutex

	child       *procchild.Child
	childExited bool

	workspacePath string
	engineURL     string
	healthPort    int

	stdout *output.Tail
	stderr *output.Tail
}

// NewManager returns an empty bridge registry.
func NewManager() *Manager {
	return &Manager{
		stdout: output.NewTail(0),
		stderr: output.NewTail(0),
	}
}

// Start installs a freshly spawned bridge.
func (m *Manager) Start(child *procchild.Child, workspacePath, engineURL string, healthPort int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.child = child
	m.childExited = false
	m.workspacePath = workspacePath
	m.engineURL = engineURL
	m.healthPort = healthPort
	m.stdout.Reset()
	m.stderr.Reset()
}

// Stop kills the bridge if held and resets the registry. Safe to call when
// already stopped.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.child != nil {
		m.child.Kill()
		m.child = nil
	}
	m.childExited = true
	m.workspacePath = ""
	m.engineURL = ""
	m.healthPort = 0
	m.stdout.Reset()
	m.stderr.Reset()
}

// Snapshot reports the registry state, discarding a handle whose exit has
// been latched.
func (m *Manager) Snapshot() Info {
	if m == nil {
		return Info{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	running := false
	pid := 0
	switch {
	case m.child == nil:
	case m.childExited:
		m.child = nil
	default:
		running = true
		pid = m.child.PID()
	}

	return Info{
		Running:       running,
		PID:           pid,
		WorkspacePath: m.workspacePath,
		EngineURL:     m.engineURL,
		HealthPort:    m.healthPort,
		LastStdout:    m.stdout.String(),
		LastStderr:    m.stderr.String(),
	}
}

// HealthPort returns the installed health port, 0 when stopped.
func (m *Manager) HealthPort() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthPort
}

// AppendStdout records one line of bridge stdout.
func (m *Manager) AppendStdout(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdout.AppendLine(line)
}

// AppendStderr records one line of bridge stderr.
func (m *Manager) AppendStderr(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stderr.AppendLine(line)
}

// MarkExited latches the exit observation.
func (m *Manager) MarkExited(code int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.childExited = true
}
