package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openwork/desktop-core/internal/orchestrator"
	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/runstore"
)

// Backend selects how the detached host is isolated.
const (
	BackendNone      = "none"
	BackendContainer = "docker"
)

const (
	dockerHealthTimeout    = 90 * time.Second
	plainHealthTimeout     = 12 * time.Second
	healthProbeInterval    = 200 * time.Millisecond
	waitingTickInterval    = 850 * time.Millisecond
	containerProbeInterval = 1500 * time.Millisecond
)

// DetachedHost describes a started detached workspace host.
type DetachedHost struct {
	OpenworkURL string `json:"openworkUrl"`
	Token       string `json:"token"`
	HostToken   string `json:"hostToken"`
	Port        int    `json:"port"`

	SandboxBackend       string `json:"sandboxBackend,omitempty"`
	SandboxRunID         string `json:"sandboxRunId,omitempty"`
	SandboxContainerName string `json:"sandboxContainerName,omitempty"`
}

// ExecResult reports one container runtime invocation.
type ExecResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// CleanupResult reports a bulk container removal pass.
type CleanupResult struct {
	Candidates []string `json:"candidates"`
	Removed    []string `json:"removed"`
	Errors     []string `json:"errors"`
}

// Options configures NewController.
type Options struct {
	Logger     *slog.Logger
	Runs       *runstore.Store // optional run ledger
	Emitter    Emitter         // optional progress fan-out
	HTTPClient *http.Client
}

// Controller drives detached sandbox lifecycles.
type Controller struct {
	log     *slog.Logger
	client  *http.Client
	runs    *runstore.Store
	emitter Emitter

	dockerTimeout time.Duration
	plainTimeout  time.Duration
}

// NewController builds a Controller with default timeouts.
func NewController(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &Controller{
		log:           log,
		client:        client,
		runs:          opts.Runs,
		emitter:       opts.Emitter,
		dockerTimeout: dockerHealthTimeout,
		plainTimeout:  plainHealthTimeout,
	}
}

// CreateOptions configures CreateDetached.
type CreateOptions struct {
	WorkspacePath string
	Backend       string // "none" (default) or "docker"
	RunID         string // generated when empty
}

func allocateFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate free port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %q", l.Addr())
	}
	return addr.Port, nil
}

func buildDetachedArgs(workspacePath string, port int, token, hostToken, runID string, dockerSandbox bool) []string {
	args := []string{
		"start",
		"--workspace", workspacePath,
		"--approval", "auto",
		"--no-opencode-auth",
		"--opencode-router", "true",
		"--detach",
		"--openwork-host", "0.0.0.0",
		"--openwork-port", strconv.Itoa(port),
		"--openwork-token", token,
		"--openwork-host-token", hostToken,
		"--run-id", runID,
	}
	if dockerSandbox {
		args = append(args, "--sandbox", "docker")
	}
	return args
}

// spawnDetached launches the orchestrator in detached mode and releases the
// handle; the CLI daemonizes itself, so nothing here waits on it.
func spawnDetached(args []string) error {
	bin, err := orchestrator.ResolveDaemonBinary()
	if err != nil {
		return err
	}
	cmd := exec.Command(bin, args...)
	procchild.SetProcessGroup(cmd)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start openwork orchestrator: %w", err)
	}
	return cmd.Process.Release()
}

// CreateDetached starts a dedicated host stack for the workspace with
// explicit tokens and a pre-allocated port so the UI can connect
// deterministically, then waits for the host's health endpoint. For the
// docker backend the wait also tracks container state transitions and
// surfaces inspect failures, each on its own timer.
func (c *Controller) CreateDetached(ctx context.Context, opts CreateOptions) (*DetachedHost, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	workspacePath := strings.TrimSpace(opts.WorkspacePath)
	if workspacePath == "" {
		return nil, errors.New("workspacePath is required")
	}

	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendNone
	}
	wantsDocker := backend == BackendContainer

	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	containerName := ""
	if wantsDocker {
		containerName = DeriveContainerName(runID)
	}

	port, err := allocateFreePort()
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	hostToken := uuid.NewString()
	openworkURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	initPayload := map[string]any{
		"workspacePath":  workspacePath,
		"openworkUrl":    openworkURL,
		"port":           port,
		"sandboxBackend": backend,
	}
	if containerName != "" {
		initPayload["containerName"] = containerName
	}
	c.emit(runID, StageInit, "Starting sandbox...", initPayload)

	if wantsDocker {
		c.emit(runID, StageDockerConfig, "Inspecting Docker configuration...", map[string]any{
			"candidates":        ResolveRuntimeCandidates(),
			"openworkDockerBin": os.Getenv("OPENWORK_DOCKER_BIN"),
			"openwrkDockerBin":  os.Getenv("OPENWRK_DOCKER_BIN"),
			"dockerBin":         os.Getenv("DOCKER_BIN"),
		})
	}

	if err := spawnDetached(buildDetachedArgs(workspacePath, port, token, hostToken, runID, wantsDocker)); err != nil {
		c.emit(runID, StageError, "Sandbox failed to start.", map[string]any{"error": err.Error()})
		return nil, err
	}
	c.emit(runID, StageSpawned, "Sandbox process launched. Waiting for OpenWork server...", map[string]any{
		"openworkUrl": openworkURL,
	})

	timeout := c.plainTimeout
	if wantsDocker {
		timeout = c.dockerTimeout
	}

	start := time.Now()
	lastTick := start.Add(-5 * time.Second)
	lastContainerCheck := start.Add(-10 * time.Second)
	var lastContainerState string
	containerSeen := false
	var lastContainerProbeErr string
	var lastErr error
	healthy := false

	healthURL := strings.TrimRight(openworkURL, "/") + "/health"
	for time.Since(start) < timeout {
		elapsedMS := time.Since(start).Milliseconds()

		if wantsDocker && time.Since(lastContainerCheck) > containerProbeInterval {
			lastContainerCheck = time.Now()
			state, exists, cErr := ContainerState(containerName)
			switch {
			case cErr != nil:
				if cErr.Error() != lastContainerProbeErr {
					lastContainerProbeErr = cErr.Error()
					c.emit(runID, StageInspect, "Docker inspect returned an error while probing sandbox container.", map[string]any{
						"containerName": containerName,
						"error":         lastContainerProbeErr,
						"elapsedMs":     elapsedMS,
					})
				}
			default:
				label := state
				if !exists {
					label = "not-created"
				}
				if state != lastContainerState || exists != containerSeen {
					lastContainerState = state
					containerSeen = exists
					c.emit(runID, StageContainer, "Sandbox container: "+label, map[string]any{
						"containerName":  containerName,
						"containerState": state,
						"elapsedMs":      elapsedMS,
					})
				}
				lastContainerProbeErr = ""
			}
		}

		resp, hErr := c.client.Get(healthURL)
		if hErr == nil {
			code := resp.StatusCode
			resp.Body.Close()
			if code >= 200 && code < 300 {
				c.emit(runID, StageHealthy, "OpenWork server is ready.", map[string]any{
					"openworkUrl":    openworkURL,
					"elapsedMs":      elapsedMS,
					"containerState": lastContainerState,
				})
				lastErr = nil
				healthy = true
				break
			}
			lastErr = fmt.Errorf("HTTP %d", code)
		} else {
			lastErr = hErr
		}

		if time.Since(lastTick) > waitingTickInterval {
			lastTick = time.Now()
			payload := map[string]any{
				"openworkUrl":    openworkURL,
				"elapsedMs":      elapsedMS,
				"containerState": lastContainerState,
			}
			if lastErr != nil {
				payload["lastError"] = lastErr.Error()
			}
			if lastContainerProbeErr != "" {
				payload["containerProbeError"] = lastContainerProbeErr
			}
			c.emit(runID, StageWaiting, "Waiting for OpenWork server...", payload)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(healthProbeInterval):
		}
	}

	if !healthy {
		message := "Timed out waiting for OpenWork server"
		if lastErr != nil {
			message = lastErr.Error()
		}
		c.emit(runID, StageError, "Sandbox failed to start.", map[string]any{
			"error":               message,
			"elapsedMs":           time.Since(start).Milliseconds(),
			"openworkUrl":         openworkURL,
			"containerState":      lastContainerState,
			"containerProbeError": lastContainerProbeErr,
		})
		return nil, errors.New(message)
	}

	host := &DetachedHost{
		OpenworkURL: openworkURL,
		Token:       token,
		HostToken:   hostToken,
		Port:        port,
	}
	if wantsDocker {
		host.SandboxBackend = BackendContainer
		host.SandboxRunID = runID
		host.SandboxContainerName = containerName
	}

	if c.runs != nil {
		err := c.runs.RecordRun(ctx, runstore.Run{
			RunID:         runID,
			Backend:       backend,
			ContainerName: containerName,
			WorkspacePath: workspacePath,
			Port:          port,
		})
		if err != nil {
			c.log.Warn("record sandbox run", "runId", runID, "err", err)
		}
	}

	c.emit(runID, StageComplete, "Detached sandbox host ready.", map[string]any{
		"openworkUrl": openworkURL,
		"elapsedMs":   time.Since(start).Milliseconds(),
	})
	return host, nil
}

// StopContainer stops one container we own; the name must carry the managed
// prefix and pass the charset check before docker is invoked.
func (c *Controller) StopContainer(containerName string) (ExecResult, error) {
	name := strings.TrimSpace(containerName)
	if err := validateStopTarget(name); err != nil {
		return ExecResult{}, err
	}

	result, err := runRuntimeCommand([]string{"stop", name}, 15*time.Second)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		OK:     result.status == 0,
		Status: result.status,
		Stdout: result.stdout,
		Stderr: result.stderr,
	}, nil
}

// Cleanup force-removes every managed container, collecting per-container
// failures instead of stopping at the first one.
func (c *Controller) Cleanup(ctx context.Context) (CleanupResult, error) {
	candidates, err := listManagedContainers()
	if err != nil {
		return CleanupResult{}, err
	}
	result := CleanupResult{Candidates: candidates, Removed: []string{}, Errors: []string{}}
	if len(candidates) == 0 {
		return result, nil
	}

	for _, name := range candidates {
		res, rErr := runRuntimeCommand([]string{"rm", "-f", name}, 20*time.Second)
		if rErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, rErr))
			continue
		}
		if res.status == 0 {
			result.Removed = append(result.Removed, name)
			if c.runs != nil {
				if dErr := c.runs.DeleteRunsByContainer(ctx, name); dErr != nil {
					c.log.Warn("prune sandbox run records", "container", name, "err", dErr)
				}
			}
			continue
		}
		combined := strings.TrimSpace(strings.TrimSpace(res.stdout) + "\n" + strings.TrimSpace(res.stderr))
		if combined == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: exit %d", name, res.status))
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: exit %d: %s", name, res.status, truncateForDebug(combined)))
		}
	}
	return result, nil
}
