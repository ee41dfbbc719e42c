// Package supervisor owns the local host stack: it starts and stops the AI
// engine (directly or through the orchestrator daemon), the relay server and
// the optional IPC bridge, and reports a combined status view.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openwork/desktop-core/internal/bridge"
	"github.com/openwork/desktop-core/internal/engine"
	"github.com/openwork/desktop-core/internal/lockfile"
	"github.com/openwork/desktop-core/internal/orchestrator"
	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/relay"
	"github.com/openwork/desktop-core/internal/settings"
	"github.com/openwork/desktop-core/internal/workspace"
)

// Mode selects how the engine is run.
type Mode string

const (
	// ModeDirect spawns the engine server as our own child process.
	ModeDirect Mode = "direct"
	// ModeOrchestrated delegates the engine to the orchestrator daemon and
	// tracks it through the daemon's health endpoint.
	ModeOrchestrated Mode = "orchestrator"
)

const (
	// directWarmup is how long a directly spawned engine is watched for an
	// immediate crash before startup is declared good.
	directWarmup    = 2 * time.Second
	warmupPollEvery = 150 * time.Millisecond
	lockFileName    = "openwork-orchestrator.lock"
	defaultAuthUser = "opencode"
)

// Options configures New.
type Options struct {
	Settings *settings.Settings
	Logger   *slog.Logger

	// ExtraPathDirs are bundled sidecar locations prepended to the PATH of
	// every spawned process.
	ExtraPathDirs []string

	HTTPClient *http.Client
}

// StartOptions configures one Start call.
type StartOptions struct {
	ProjectDir string
	Mode       Mode // defaults to ModeDirect

	// WorkspacePaths are handed to the relay; the project dir is used when
	// empty.
	WorkspacePaths []string
}

// Info is the combined stack status.
type Info struct {
	Mode         Mode                 `json:"mode,omitempty"`
	Engine       engine.Info          `json:"engine"`
	Relay        relay.Info           `json:"server"`
	Bridge       bridge.Info          `json:"bridge"`
	Orchestrator *orchestrator.Status `json:"orchestrator,omitempty"`
}

// Supervisor coordinates the process registries. startMu serializes whole
// Start/Stop sequences; the registries themselves are individually safe for
// concurrent snapshots.
type Supervisor struct {
	log      *slog.Logger
	settings *settings.Settings
	client   *http.Client
	extra    []string

	Engine *engine.Manager
	Daemon *orchestrator.Manager
	Relay  *relay.Manager
	Bridge *bridge.Manager

	// startMu is held across a full Start or Stop so a concurrent Start
	// cannot tear down the child another call just installed.
	startMu sync.Mutex

	mu        sync.Mutex
	mode      Mode
	dataDir   string
	lock      *lockfile.Lock
	lastError string
}

// New builds an idle Supervisor.
func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Settings
	if cfg == nil {
		cfg = settings.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Supervisor{
		log:      log,
		settings: cfg,
		client:   client,
		extra:    opts.ExtraPathDirs,
		Engine:   engine.NewManager(),
		Daemon:   orchestrator.NewManager(),
		Relay:    relay.NewManager(),
		Bridge:   bridge.NewManager(),
	}
}

// Start brings up the full stack for a project directory, stopping any
// previous stack first. The returned engine snapshot carries the endpoint
// and credentials the UI needs.
func (s *Supervisor) Start(ctx context.Context, o StartOptions) (engine.Info, error) {
	if s == nil {
		return engine.Info{}, errors.New("nil supervisor")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	projectDir := strings.TrimSpace(o.ProjectDir)
	if projectDir == "" {
		return engine.Info{}, errors.New("projectDir is required")
	}

	mode := o.Mode
	if mode == "" {
		mode = ModeDirect
	}
	if mode != ModeDirect && mode != ModeOrchestrated {
		return engine.Info{}, fmt.Errorf("unknown mode %q", mode)
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.stopStack()

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return engine.Info{}, fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := workspace.EnsureConfig(projectDir); err != nil {
		return engine.Info{}, err
	}

	username, password := "", ""
	if s.settings.AuthRequired() {
		username = defaultAuthUser
		password = uuid.NewString()
	}

	workspacePaths := o.WorkspacePaths
	if len(workspacePaths) == 0 {
		workspacePaths = []string{projectDir}
	}

	var info engine.Info
	var err error
	switch mode {
	case ModeOrchestrated:
		info, err = s.startOrchestrated(ctx, projectDir, username, password)
	default:
		info, err = s.startDirect(ctx, projectDir, username, password)
	}
	if err != nil {
		s.setLastError(err.Error())
		return engine.Info{}, err
	}

	s.mu.Lock()
	s.mode = mode
	s.lastError = ""
	s.mu.Unlock()

	s.startRelayAndBridge(ctx, info, workspacePaths)
	return s.Engine.Snapshot(), nil
}

// startDirect spawns the engine as our own child and watches it briefly for
// an immediate crash before declaring startup good.
func (s *Supervisor) startDirect(ctx context.Context, projectDir, username, password string) (engine.Info, error) {
	binary, _, notes := engine.ResolveBinary()
	if binary == "" {
		return engine.Info{}, fmt.Errorf("engine binary not found: %s", strings.Join(notes, "; "))
	}

	bindHost := s.settings.ResolveBindHost()
	clientHost := s.settings.ResolveClientHost()
	port, err := engine.FindFreePort()
	if err != nil {
		return engine.Info{}, fmt.Errorf("failed to find a free port: %w", err)
	}

	child, err := engine.Spawn(ctx, engine.SpawnOptions{
		Binary:        binary,
		Hostname:      bindHost,
		Port:          port,
		ProjectDir:    projectDir,
		Username:      username,
		Password:      password,
		ExtraPathDirs: s.extra,
		Logger:        s.log,
	})
	if err != nil {
		return engine.Info{}, err
	}

	s.Engine.Start(engine.StartState{
		Child:      child,
		ProjectDir: projectDir,
		Hostname:   clientHost,
		Port:       port,
		BaseURL:    fmt.Sprintf("http://%s:%d", clientHost, port),
		Username:   username,
		Password:   password,
	})
	procchild.Consume(child, s.Engine)

	// An engine that dies within the warm-up window failed to start; its
	// tails explain why. A torn-down caller context does not abort the
	// warm-up: the spawned engine keeps running until an explicit Stop.
	deadline := time.Now().Add(directWarmup)
	for time.Now().Before(deadline) {
		if s.Engine.Exited() {
			snap := s.Engine.Snapshot()
			s.Engine.Stop()
			detail := strings.TrimSpace(snap.LastStderr)
			if detail == "" {
				detail = strings.TrimSpace(snap.LastStdout)
			}
			if detail == "" {
				return engine.Info{}, errors.New("engine exited during startup")
			}
			return engine.Info{}, fmt.Errorf("engine exited during startup: %s", detail)
		}
		time.Sleep(warmupPollEvery)
	}

	return s.Engine.Snapshot(), nil
}

// startOrchestrated spawns the orchestrator daemon, waits for its health
// endpoint to report a supervised engine, and installs that endpoint in the
// engine registry without owning a child process for it.
func (s *Supervisor) startOrchestrated(ctx context.Context, projectDir, username, password string) (engine.Info, error) {
	binary, _, notes := engine.ResolveBinary()
	if binary == "" {
		return engine.Info{}, fmt.Errorf("engine binary not found: %s", strings.Join(notes, "; "))
	}

	dataDir := orchestrator.ResolveDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return engine.Info{}, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(dataDir, lockFileName))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return engine.Info{}, fmt.Errorf("another process is already managing %s", dataDir)
		}
		return engine.Info{}, err
	}

	fail := func(e error) (engine.Info, error) {
		s.Daemon.Stop()
		orchestrator.ClearAuthSnapshot(dataDir)
		_ = lock.Release()
		return engine.Info{}, e
	}

	daemonPort, err := engine.FindFreePort()
	if err != nil {
		return fail(fmt.Errorf("failed to find a free port: %w", err))
	}

	child, err := orchestrator.Spawn(ctx, orchestrator.SpawnOptions{
		DataDir:        dataDir,
		DaemonHost:     "127.0.0.1",
		DaemonPort:     daemonPort,
		EngineBin:      binary,
		EngineHost:     s.settings.ResolveBindHost(),
		EngineWorkdir:  projectDir,
		EngineUsername: username,
		EnginePassword: password,
		CORS:           "*",
		ExtraPathDirs:  s.extra,
		Logger:         s.log,
	})
	if err != nil {
		return fail(err)
	}
	s.Daemon.Start(child, dataDir)
	procchild.Consume(child, s.Daemon)

	if err := orchestrator.WriteAuthSnapshot(dataDir, username, password, projectDir); err != nil {
		s.log.Warn("write auth snapshot", "err", err)
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", daemonPort)
	health, err := orchestrator.WaitForHealthy(ctx, s.client, baseURL, s.settings.StartTimeout())
	if err != nil {
		detail := strings.TrimSpace(s.Daemon.LastStderr())
		if detail != "" {
			err = fmt.Errorf("%w (daemon output: %s)", err, detail)
		}
		return fail(err)
	}
	if health.Engine == nil || strings.TrimSpace(health.Engine.BaseURL) == "" {
		return fail(errors.New("orchestrator is healthy but reported no engine endpoint"))
	}

	s.mu.Lock()
	s.dataDir = dataDir
	s.lock = lock
	s.mu.Unlock()

	s.Engine.Start(engine.StartState{
		Child:      nil, // owned by the daemon
		ProjectDir: projectDir,
		Hostname:   s.settings.ResolveClientHost(),
		Port:       health.Engine.Port,
		BaseURL:    health.Engine.BaseURL,
		Username:   username,
		Password:   password,
	})
	return s.Engine.Snapshot(), nil
}

// startRelayAndBridge brings up the relay and, when enabled, the bridge.
// Neither is fatal to an already-started engine; failures are noted in the
// engine's stderr tail instead.
func (s *Supervisor) startRelayAndBridge(ctx context.Context, info engine.Info, workspacePaths []string) {
	bridgeHealthPort := 0
	if s.settings.EnableBridge {
		port, err := bridge.ResolveHealthPort()
		if err != nil {
			s.Engine.NoteError(fmt.Sprintf("IPC bridge health port unavailable: %v", err))
		} else {
			bridgeHealthPort = port
		}
	}

	if _, err := relay.Start(ctx, s.Relay, relay.StartOptions{
		WorkspacePaths:   workspacePaths,
		EngineBaseURL:    info.BaseURL,
		EngineUsername:   info.Username,
		EnginePassword:   info.Password,
		BridgeHealthPort: bridgeHealthPort,
		Logger:           s.log,
	}); err != nil {
		s.log.Warn("relay failed to start", "err", err)
		s.Engine.NoteError(fmt.Sprintf("OpenWork server failed to start: %v", err))
	}

	if !s.settings.EnableBridge || bridgeHealthPort == 0 {
		return
	}
	workspacePath := ""
	if len(workspacePaths) > 0 {
		workspacePath = workspacePaths[0]
	}
	child, err := bridge.Spawn(ctx, bridge.SpawnOptions{
		WorkspacePath: workspacePath,
		EngineURL:     info.BaseURL,
		Username:      info.Username,
		Password:      info.Password,
		HealthPort:    bridgeHealthPort,
		Logger:        s.log,
	})
	if err != nil {
		s.log.Warn("bridge failed to start", "err", err)
		s.Engine.NoteError(fmt.Sprintf("IPC bridge failed to start: %v", err))
		return
	}
	s.Bridge.Start(child, workspacePath, info.BaseURL, bridgeHealthPort)
	procchild.Consume(child, s.Bridge)
}

// Stop tears the whole stack down. Safe to call when nothing is running.
func (s *Supervisor) Stop() {
	if s == nil {
		return
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.stopStack()
}

// stopStack is Stop without the serialization; callers hold startMu.
func (s *Supervisor) stopStack() {
	s.Bridge.Stop()
	s.Relay.Stop()
	s.Engine.Stop()
	s.Daemon.Stop()

	s.mu.Lock()
	dataDir := s.dataDir
	lock := s.lock
	s.dataDir = ""
	s.lock = nil
	s.mode = ""
	s.mu.Unlock()

	if dataDir != "" {
		orchestrator.ClearAuthSnapshot(dataDir)
	}
	if lock != nil {
		if err := lock.Release(); err != nil {
			s.log.Warn("release data dir lock", "err", err)
		}
	}
}

// Shutdown is Stop plus closing anything held open; it exists for deferred
// use at process exit.
func (s *Supervisor) Shutdown() {
	s.Stop()
}

// Info reports the combined stack status. In orchestrated mode the daemon's
// live health is preferred; when the daemon does not answer, the persisted
// state file is consulted and the recorded pid is checked for liveness.
func (s *Supervisor) Info() Info {
	if s == nil {
		return Info{}
	}
	s.mu.Lock()
	mode := s.mode
	dataDir := s.dataDir
	lastError := s.lastError
	s.mu.Unlock()

	out := Info{
		Mode:   mode,
		Engine: s.Engine.Snapshot(),
		Relay:  s.Relay.Snapshot(),
		Bridge: s.Bridge.Snapshot(),
	}

	if mode == ModeOrchestrated {
		if dataDir == "" {
			dataDir = orchestrator.ResolveDataDir()
		}
		// Credentials live in the auth snapshot when the endpoint is owned
		// by the daemon; refill them if the in-memory registry lost them.
		if out.Engine.Username == "" {
			if snap := orchestrator.ReadAuthSnapshot(dataDir); snap != nil {
				out.Engine.Username = snap.Username
				out.Engine.Password = snap.Password
				if out.Engine.ProjectDir == "" {
					out.Engine.ProjectDir = snap.ProjectDir
				}
			}
		}
		status := orchestrator.ResolveStatus(s.client, dataDir, lastError)
		if !status.Running && status.Daemon != nil && status.Daemon.PID > 0 {
			// The health probe failed but the recorded daemon process may
			// still be alive (slow start, busy event loop).
			if procchild.PidAlive(status.Daemon.PID) {
				status.Running = true
			}
		}
		out.Orchestrator = &status
	}
	return out
}

func (s *Supervisor) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// LastError returns the most recent fatal startup error, empty after a
// successful start.
func (s *Supervisor) LastError() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}
