//go:build !windows

package sandbox

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript installs an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

// fakeDockerBody answers --version and info like a healthy install.
const fakeDockerBody = `case "$1" in
--version)
  echo "Docker version 27.3.1, build test"
  ;;
info)
  echo "Client:"
  echo " Version: 27.3.1"
  echo ""
  echo "Server:"
  echo " Server Version: 27.3.1"
  ;;
*)
  exit 1
  ;;
esac
`

func TestRunRuntimeCommandFallsBackPastHangingBinary(t *testing.T) {
	dir := t.TempDir()
	slow := writeScript(t, dir, "slow-docker", "exec /bin/sleep 5\n")
	writeScript(t, dir, "docker", fakeDockerBody)

	t.Setenv("OPENWORK_DOCKER_BIN", slow)
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	start := time.Now()
	result, err := runRuntimeCommand([]string{"--version"}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("runRuntimeCommand: %v", err)
	}
	if result.program != filepath.Join(dir, "docker") {
		t.Fatalf("program = %q, want fallback in %q", result.program, dir)
	}
	if !strings.Contains(result.stdout, "Docker version 27.3.1") {
		t.Fatalf("stdout = %q", result.stdout)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("hanging candidate was not abandoned (took %v)", elapsed)
	}
}

func TestRunRuntimeCommandReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENWORK_DOCKER_BIN", "")
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	_, err := runRuntimeCommand([]string{"--version"}, 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected error with no docker available")
	}
	if !strings.Contains(err.Error(), "OPENWORK_DOCKER_BIN") {
		t.Fatalf("error missing override hint: %v", err)
	}
}

func TestDoctorHealthyRuntime(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "docker", fakeDockerBody)

	t.Setenv("OPENWORK_DOCKER_BIN", bin)
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	c := NewController(Options{})
	res := c.Doctor()
	if !res.Installed || !res.DaemonRunning || !res.PermissionOK || !res.Ready {
		t.Fatalf("doctor flags = %+v", res)
	}
	if res.ClientVersion != "Docker version 27.3.1, build test" {
		t.Fatalf("client version = %q", res.ClientVersion)
	}
	if res.ServerVersion != "27.3.1" {
		t.Fatalf("server version = %q", res.ServerVersion)
	}
	if res.Debug == nil || res.Debug.SelectedBin != bin {
		t.Fatalf("debug = %+v", res.Debug)
	}
}

func TestDoctorClassifiesDaemonDown(t *testing.T) {
	dir := t.TempDir()
	body := `case "$1" in
--version)
  echo "Docker version 27.3.1, build test"
  ;;
info)
  echo "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?" >&2
  exit 1
  ;;
esac
`
	bin := writeScript(t, dir, "docker", body)

	t.Setenv("OPENWORK_DOCKER_BIN", bin)
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	c := NewController(Options{})
	res := c.Doctor()
	if !res.Installed {
		t.Fatalf("installed = false: %+v", res)
	}
	if res.DaemonRunning {
		t.Fatal("daemonRunning should be false when the socket is unreachable")
	}
	if !res.PermissionOK {
		t.Fatal("permissionOk should stay true for a connectivity failure")
	}
	if res.Ready {
		t.Fatal("ready should be false")
	}
	if res.Error == "" {
		t.Fatal("expected the info output to surface as the error")
	}
}

func TestDoctorClassifiesPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	body := `case "$1" in
--version)
  echo "Docker version 27.3.1, build test"
  ;;
info)
  echo "permission denied while trying to connect to the Docker daemon socket" >&2
  exit 1
  ;;
esac
`
	bin := writeScript(t, dir, "docker", body)

	t.Setenv("OPENWORK_DOCKER_BIN", bin)
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	c := NewController(Options{})
	res := c.Doctor()
	if res.PermissionOK {
		t.Fatal("permissionOk should be false for a denied socket")
	}
	if res.Ready {
		t.Fatal("ready should be false")
	}
}

func TestContainerStateTreatsMissingAsAbsent(t *testing.T) {
	dir := t.TempDir()
	body := `if [ "$1" = "inspect" ]; then
  echo "Error: No such object: $4" >&2
  exit 1
fi
exit 1
`
	bin := writeScript(t, dir, "docker", body)

	t.Setenv("OPENWORK_DOCKER_BIN", bin)
	t.Setenv("OPENWRK_DOCKER_BIN", "")
	t.Setenv("DOCKER_BIN", "")
	t.Setenv("PATH", dir)

	state, exists, err := ContainerState("openwork-orchestrator-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists || state != "" {
		t.Fatalf("state = %q exists = %v, want absent", state, exists)
	}
}

func TestStopContainerRejectsForeignNames(t *testing.T) {
	c := NewController(Options{})
	if _, err := c.StopContainer("postgres"); err == nil {
		t.Fatal("expected refusal for a foreign container name")
	}
}

func TestCreateDetachedTimesOutWithStageTrail(t *testing.T) {
	dir := t.TempDir()
	// Orchestrator stand-in that detaches and does nothing: no server ever
	// listens on the allocated port, so the health wait must time out.
	daemon := writeScript(t, dir, "openwork-orchestrator", "exit 0\n")

	t.Setenv("OPENWORK_ORCHESTRATOR_BIN", daemon)

	var events []Event
	c := NewController(Options{Emitter: func(ev Event) { events = append(events, ev) }})
	c.plainTimeout = 700 * time.Millisecond

	ws := t.TempDir()
	_, err := c.CreateDetached(context.Background(), CreateOptions{WorkspacePath: ws, RunID: "run-timeout-test"})
	if err == nil {
		t.Fatal("expected health wait to fail")
	}

	var stages []Stage
	for _, ev := range events {
		if ev.RunID != "run-timeout-test" {
			t.Fatalf("event carried wrong run id: %+v", ev)
		}
		stages = append(stages, ev.Stage)
	}
	if len(stages) < 3 {
		t.Fatalf("too few events: %v", stages)
	}
	if stages[0] != StageInit {
		t.Fatalf("first stage = %q, want %q", stages[0], StageInit)
	}
	if stages[1] != StageSpawned {
		t.Fatalf("second stage = %q, want %q", stages[1], StageSpawned)
	}
	if stages[len(stages)-1] != StageError {
		t.Fatalf("last stage = %q, want %q (%v)", stages[len(stages)-1], StageError, stages)
	}
	sawWaiting := false
	for _, s := range stages {
		if s == StageWaiting {
			sawWaiting = true
		}
	}
	if !sawWaiting {
		t.Fatalf("no waiting tick observed: %v", stages)
	}
}

// TestMain lets the test binary double as a stand-in orchestrator daemon:
// when re-executed with the helper env set, it serves /health on the port it
// was told to use and exits on its own shortly after.
func TestMain(m *testing.M) {
	if os.Getenv("SANDBOX_TEST_HELPER") == "serve" {
		runHelperDaemon()
		return
	}
	os.Exit(m.Run())
}

func runHelperDaemon() {
	port := ""
	args := os.Args
	for i, arg := range args {
		if arg == "--openwork-port" && i+1 < len(args) {
			port = args[i+1]
		}
	}
	if port == "" {
		os.Exit(2)
	}
	time.AfterFunc(15*time.Second, func() { os.Exit(0) })
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if err := http.ListenAndServe("127.0.0.1:"+port, nil); err != nil {
		os.Exit(2)
	}
}

func TestCreateDetachedHealthySucceeds(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	t.Setenv("OPENWORK_ORCHESTRATOR_BIN", self)
	t.Setenv("SANDBOX_TEST_HELPER", "serve")

	var events []Event
	c := NewController(Options{Emitter: func(ev Event) { events = append(events, ev) }})
	c.plainTimeout = 8 * time.Second

	ws := t.TempDir()
	host, err := c.CreateDetached(context.Background(), CreateOptions{WorkspacePath: ws})
	if err != nil {
		t.Fatalf("CreateDetached: %v", err)
	}
	if host.Port <= 0 || host.Token == "" || host.HostToken == "" {
		t.Fatalf("host = %+v", host)
	}
	if !strings.HasPrefix(host.OpenworkURL, "http://127.0.0.1:") {
		t.Fatalf("openworkUrl = %q", host.OpenworkURL)
	}
	if host.SandboxBackend != "" || host.SandboxContainerName != "" {
		t.Fatalf("plain backend should not report sandbox fields: %+v", host)
	}

	last := events[len(events)-1]
	if last.Stage != StageComplete {
		t.Fatalf("final stage = %q, want %q", last.Stage, StageComplete)
	}
	sawHealthy := false
	for _, ev := range events {
		if ev.Stage == StageHealthy {
			sawHealthy = true
		}
	}
	if !sawHealthy {
		t.Fatal("no healthy stage observed")
	}
}
