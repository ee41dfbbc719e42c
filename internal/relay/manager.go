package relay

import (
	"fmt"
	"sync"

	"github.com/openwork/desktop-core/internal/output"
	"github.com/openwork/desktop-core/internal/procchild"
)

// Info is a point-in-time snapshot of the relay registry.
type Info struct {
	Running     bool   `json:"running"`
	PID         int    `json:"pid,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
	ConnectURL  string `json:"connectUrl,omitempty"`
	MDNSURL     string `json:"mdnsUrl,omitempty"`
	LANURL      string `json:"lanUrl,omitempty"`
	ClientToken string `json:"token,omitempty"`
	HostToken   string `json:"hostToken,omitempty"`
	LastStdout  string `json:"lastStdout,omitempty"`
	LastStderr  string `json:"lastStderr,omitempty"`
}

// StartState carries everything installed when the relay starts.
type StartState struct {
	Child       *procchild.Child
	Host        string
	Port        int
	URLs        URLs
	ClientToken string
	HostToken   string
}

// Manager is the relay server process registry.
type Manager struct {
	mu sync.Mutex

	child       *procchild.Child
	childExited bool

	host        string
	port        int
	baseURL     string
	urls        URLs
	clientToken string
	hostToken   string

	stdout *output.Tail
	stderr *output.Tail
}

// NewManager returns an empty relay registry.
func NewManager() *Manager {
	return &Manager{
		stdout: output.NewTail(0),
		stderr: output.NewTail(0),
	}
}

// Start installs a freshly spawned relay.
func (m *Manager) Start(s StartState) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.child = s.Child
	m.childExited = false
	m.host = s.Host
	m.port = s.Port
	m.baseURL = fmt.Sprintf("http://127.0.0.1:%d", s.Port)
	m.urls = s.URLs
	m.clientToken = s.ClientToken
	m.hostToken = s.HostToken
	m.stdout.Reset()
	m.stderr.Reset()
}

// Stop kills the relay if held and resets every field, tokens included.
// Safe to call when already stopped.
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
	m.host = ""
	m.port = 0
	m.baseURL = ""
	m.urls = URLs{}
	m.clientToken = ""
	m.hostToken = ""
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
		Running:     running,
		PID:         pid,
		Host:        m.host,
		Port:        m.port,
		BaseURL:     m.baseURL,
		ConnectURL:  m.urls.Connect,
		MDNSURL:     m.urls.MDNS,
		LANURL:      m.urls.LAN,
		ClientToken: m.clientToken,
		HostToken:   m.hostToken,
		LastStdout:  m.stdout.String(),
		LastStderr:  m.stderr.String(),
	}
}

// AppendStdout records one line of relay stdout.
func (m *Manager) AppendStdout(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdout.AppendLine(line)
}

// AppendStderr records one line of relay stderr.
func (m *Manager) AppendStderr(line string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stderr.AppendLine(line)
}

// MarkExited latches the exit observation and leaves a note in the stderr
// tail so snapshots explain the dead relay.
func (m *Manager) MarkExited(code int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.childExited = true
	m.stderr.AppendLine(fmt.Sprintf("OpenWork server exited (code %d).", code))
}
