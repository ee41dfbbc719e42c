// Package engine manages the local AI engine server process: spawn argument
// construction, binary resolution, the lock-guarded process registry and an
// installation doctor.
package engine

import (
	"sync"

	"github.com/openwork/desktop-core/internal/output"
	"github.com/openwork/desktop-core/internal/procchild"
)

// Info is a point-in-time snapshot of the engine registry.
type Info struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	ProjectDir string `json:"projectDir,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	Port       int    `json:"port,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Username   string `json:"opencodeUsername,omitempty"`
	Password   string `json:"opencodePassword,omitempty"`
	LastStdout string `json:"lastStdout,omitempty"`
	LastStderr string `json:"lastStderr,omitempty"`
}

// StartState carries everything installed into the registry when the engine
// (or an orchestrated endpoint standing in for it) starts.
type StartState struct {
	Child      *procchild.Child // nil when the endpoint is owned elsewhere
	ProjectDir string
	Hostname   string
	Port       int
	BaseURL    string
	Username   string
	Password   string
}

// Manager is the engine process registry. All fields are guarded by mu;
// the output tails are only touched under the same lock.
type Manager struct {
	mu sync.Mutex

	child       *procchild.Child
	childExited bool

	projectDir string
	hostname   string
	port       int
	baseURL    string
	username   string
	password   string

	stdout *output.Tail
	stderr *output.Tail
}

// NewManager returns an empty engine registry.
func NewManager() *Manager {
	return &Manager{
		stdout: output.NewTail(0),
		stderr: output.NewTail(0),
	}
}

// Start installs a freshly spawned engine (or orchestrated endpoint) into the
// registry, clearing any previous output tails and the exit latch.
func (m *Manager) Start(s StartState) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.child = s.Child
	m.childExited = false
	m.projectDir = s.ProjectDir
	m.hostname = s.Hostname
	m.port = s.Port
	m.baseURL = s.BaseURL
	m.username = s.Username
	m.password = s.Password
	m.stdout.Reset()
	m.stderr.Reset()
}

// Stop kills the child if one is held and resets every descriptive field so
// no endpoint or credential data survives into the stopped state. Safe to
// call when already stopped.
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
	m.projectDir = ""
	m.hostname = ""
	m.port = 0
	m.baseURL = ""
	m.username = ""
	m.password = ""
	m.stdout.Reset()
	m.stderr.Reset()
}

// Snapshot reports the current registry state. Observing a latched exit
// discards the stale child handle so later snapshots agree.
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
		ProjectDir: m.projectDir,
		Hostname:   m.hostname,
		Port:       m.port,
		BaseURL:    m.baseURL,
		Username:   m.username,
		Password:   m.password,
		LastStdout: m.stdout.String(),
		LastStderr: m.stderr.String(),
	}
}

// Credentials returns the username/password pair currently installed.
func (m *Manager) Credentials() (string, string) {
	if m == nil {
		return "", ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username, m.password
}

// ProjectDir returns the workspace directory currently installed.
func (m *Manager) ProjectDir() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projectDir
}

// AppendStdout records one line of engine stdout.
func (m *Manager) AppendStdout(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdout.AppendLine(line)
}

// AppendStderr records one line of engine stderr.
func (m *Manager) AppendStderr(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stderr.AppendLine(line)
}

// NoteError records a non-fatal startup problem (for example a relay that
// failed to come up) in the stderr tail so it surfaces in snapshots.
func (m *Manager) NoteError(msg string) {
	m.AppendStderr(msg)
}

// MarkExited latches the exit observation; the handle is discarded on the
// next Snapshot.
func (m *Manager) MarkExited(code int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.childExited = true
}

// Exited reports whether the current child has been observed exiting.
func (m *Manager) Exited() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childExited
}
