package orchestrator

import (
	"sync"

	"github.com/openwork/desktop-core/internal/output"
	"github.com/openwork/desktop-core/internal/procchild"
)

// Info is a point-in-time snapshot of the daemon registry.
type Info struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	DataDir    string `json:"dataDir,omitempty"`
	LastStdout string `json:"lastStdout,omitempty"`
	LastStderr string `json:"lastStderr,omitempty"`
}

// Manager is the orchestrator daemon process registry.
type Manager struct {
	mu sync.Mutex

	child       *procchild.Child
	childExited bool
	dataDir     string

	stdout *output.Tail
	stderr *output.Tail
}

// NewManager returns an empty daemon registry.
func NewManager() *Manager {
	return &Manager{
		stdout: output.NewTail(0),
		stderr: output.NewTail(0),
	}
}

// Start installs a freshly spawned daemon.
func (m *Manager) Start(child *procchild.Child, dataDir string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.child = child
	m.childExited = false
	m.dataDir = dataDir
	m.stdout.Reset()
	m.stderr.Reset()
}

// Stop kills the daemon if held and resets the registry. Safe to call when
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
	m.dataDir = ""
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
		Running:    running,
		PID:        pid,
		DataDir:    m.dataDir,
		LastStdout: m.stdout.String(),
		LastStderr: m.stderr.String(),
	}
}

// DataDir returns the data dir of the currently installed daemon, empty when
// stopped.
func (m *Manager) DataDir() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataDir
}

// AppendStdout records one line of daemon stdout.
func (m *Manager) AppendStdout(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdout.AppendLine(line)
}

// AppendStderr records one line of daemon stderr.
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

// LastStderr returns the current stderr tail.
func (m *Manager) LastStderr() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stderr.String()
}
