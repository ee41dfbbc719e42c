//go:build !windows

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openwork/desktop-core/internal/engine"
	"github.com/openwork/desktop-core/internal/procchild"
	"github.com/openwork/desktop-core/internal/settings"
)

// TestMain lets the test binary double as a fake orchestrator daemon: when
// re-executed with the helper env set it serves the daemon health endpoint
// and exits on its own after a while.
func TestMain(m *testing.M) {
	if os.Getenv("SUPERVISOR_TEST_HELPER") == "daemon" {
		runHelperDaemon()
		return
	}
	os.Exit(m.Run())
}

func runHelperDaemon() {
	port := ""
	args := os.Args
	for i, arg := range args {
		if arg == "--daemon-port" && i+1 < len(args) {
			port = args[i+1]
		}
	}
	if port == "" {
		os.Exit(2)
	}
	daemonPort, err := strconv.Atoi(port)
	if err != nil {
		os.Exit(2)
	}
	enginePort := 45123
	health := map[string]any{
		"ok": true,
		"daemon": map[string]any{
			"pid":     os.Getpid(),
			"port":    daemonPort,
			"baseUrl": "http://127.0.0.1:" + port,
		},
		"opencode": map[string]any{
			"pid":     os.Getpid(),
			"port":    enginePort,
			"baseUrl": fmt.Sprintf("http://127.0.0.1:%d", enginePort),
		},
		"workspaceCount": 1,
	}
	body, err := json.Marshal(health)
	if err != nil {
		os.Exit(2)
	}
	time.AfterFunc(30*time.Second, func() { os.Exit(0) })
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	if err := http.ListenAndServe("127.0.0.1:"+port, nil); err != nil {
		os.Exit(2)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

// setupDirectEnv points binary resolution at a fake engine and keeps the
// relay and bridge from finding real binaries.
func setupDirectEnv(t *testing.T, engineBody string) {
	t.Helper()
	dir := t.TempDir()
	bin := writeScript(t, dir, "opencode", engineBody)
	t.Setenv("OPENCODE_BIN_PATH", bin)
	t.Setenv("OPENWORK_SERVER_BIN", "")
	t.Setenv("OPENCODE_ROUTER_BIN", "")
	t.Setenv("PATH", dir)
	t.Setenv("DOWHAT_OPENCODE_BIND_HOST", "")
	t.Setenv("DOWHAT_OPENCODE_AUTH", "")
}

func TestStartDirectRunsEngine(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	project := t.TempDir()
	info, err := sup.Start(context.Background(), StartOptions{ProjectDir: project})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !info.Running || info.PID <= 0 {
		t.Fatalf("engine not running: %+v", info)
	}
	if info.ProjectDir != project {
		t.Fatalf("projectDir = %q, want %q", info.ProjectDir, project)
	}
	if info.Username != "opencode" || info.Password == "" {
		t.Fatalf("credentials not generated: %+v", info)
	}
	if !strings.HasPrefix(info.BaseURL, "http://127.0.0.1:") {
		t.Fatalf("baseUrl = %q", info.BaseURL)
	}
	if _, err := os.Stat(filepath.Join(project, "opencode.json")); err != nil {
		t.Fatalf("workspace config not seeded: %v", err)
	}

	combined := sup.Info()
	if combined.Mode != ModeDirect {
		t.Fatalf("mode = %q", combined.Mode)
	}
	if combined.Orchestrator != nil {
		t.Fatal("direct mode should not report orchestrator status")
	}
}

func TestStartDirectSurfacesImmediateCrash(t *testing.T) {
	setupDirectEnv(t, "echo \"boom: missing model\" >&2\nexit 1\n")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	_, err := sup.Start(context.Background(), StartOptions{ProjectDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected startup failure")
	}
	if !strings.Contains(err.Error(), "exited during startup") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "boom: missing model") {
		t.Fatalf("stderr detail missing from error: %v", err)
	}
	if sup.LastError() == "" {
		t.Fatal("last error not recorded")
	}
	if snap := sup.Engine.Snapshot(); snap.Running {
		t.Fatalf("engine registry should be stopped: %+v", snap)
	}
}

func TestRestartKillsPreviousEngine(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	first, err := sup.Start(context.Background(), StartOptions{ProjectDir: t.TempDir()})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := sup.Start(context.Background(), StartOptions{ProjectDir: t.TempDir()})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first.PID == second.PID {
		t.Fatalf("second start reused pid %d", first.PID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for procchild.PidAlive(first.PID) {
		if time.Now().After(deadline) {
			t.Fatalf("first engine pid %d still alive", first.PID)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Two racing Start calls must behave like two sequential ones: each succeeds,
// and the loser's child is only ever stopped by the winner's own stop-first
// sequence, never mid-startup.
func TestConcurrentStartsDoNotKillEachOther(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	type result struct {
		info engine.Info
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		project := t.TempDir()
		go func() {
			info, err := sup.Start(context.Background(), StartOptions{ProjectDir: project})
			results <- result{info: info, err: err}
		}()
	}

	pids := make(map[int]bool)
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("concurrent Start: %v", r.err)
		}
		if r.info.PID <= 0 {
			t.Fatalf("concurrent Start returned no pid: %+v", r.info)
		}
		pids[r.info.PID] = true
	}

	snap := sup.Engine.Snapshot()
	if !snap.Running || !procchild.PidAlive(snap.PID) {
		t.Fatalf("surviving engine not alive: %+v", snap)
	}
	if !pids[snap.PID] {
		t.Fatalf("registry pid %d was returned by neither Start (%v)", snap.PID, pids)
	}
}

// Tearing down the caller's context during the warm-up watch must not kill
// the just-spawned engine; it runs until an explicit Stop.
func TestStartDirectSurvivesCallerContextCancel(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(300*time.Millisecond, cancel)
	t.Cleanup(func() { timer.Stop(); cancel() })

	info, err := sup.Start(ctx, StartOptions{ProjectDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !info.Running || !procchild.PidAlive(info.PID) {
		t.Fatalf("engine should outlive the caller context: %+v", info)
	}

	sup.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for procchild.PidAlive(info.PID) {
		if time.Now().After(deadline) {
			t.Fatalf("engine pid %d still alive after Stop", info.PID)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestStopClearsEverything(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")

	sup := New(Options{})
	if _, err := sup.Start(context.Background(), StartOptions{ProjectDir: t.TempDir()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sup.Stop()

	info := sup.Info()
	if info.Mode != "" {
		t.Fatalf("mode not cleared: %q", info.Mode)
	}
	if info.Engine.Running || info.Engine.BaseURL != "" || info.Engine.Password != "" {
		t.Fatalf("engine state leaked: %+v", info.Engine)
	}
	if info.Relay.Running || info.Relay.ClientToken != "" {
		t.Fatalf("relay state leaked: %+v", info.Relay)
	}
}

func TestStartRequiresProjectDir(t *testing.T) {
	sup := New(Options{})
	if _, err := sup.Start(context.Background(), StartOptions{ProjectDir: "   "}); err == nil {
		t.Fatal("expected error for missing project dir")
	}
}

func TestStartRejectsUnknownMode(t *testing.T) {
	sup := New(Options{})
	_, err := sup.Start(context.Background(), StartOptions{ProjectDir: t.TempDir(), Mode: Mode("hybrid")})
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartOrchestratedTracksDaemonEndpoint(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	dataDir := t.TempDir()
	t.Setenv("OPENWORK_ORCHESTRATOR_BIN", self)
	t.Setenv("SUPERVISOR_TEST_HELPER", "daemon")
	t.Setenv("DOWHAT_DATA_DIR", dataDir)
	t.Setenv("DOWHAT_ORCHESTRATOR_START_TIMEOUT_MS", "10000")

	sup := New(Options{})
	t.Cleanup(sup.Stop)

	project := t.TempDir()
	info, err := sup.Start(context.Background(), StartOptions{
		ProjectDir: project,
		Mode:       ModeOrchestrated,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Running {
		t.Fatal("orchestrated engine endpoint must not claim a managed child")
	}
	if info.BaseURL != "http://127.0.0.1:45123" || info.Port != 45123 {
		t.Fatalf("engine endpoint = %+v", info)
	}
	if info.Username != "opencode" || info.Password == "" {
		t.Fatalf("credentials missing: %+v", info)
	}

	authPath := filepath.Join(dataDir, "openwork-orchestrator-auth.json")
	data, err := os.ReadFile(authPath)
	if err != nil {
		t.Fatalf("auth snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), "\"opencodeUsername\": \"opencode\"") {
		t.Fatalf("auth snapshot content: %s", data)
	}
	if !strings.Contains(string(data), project) {
		t.Fatalf("auth snapshot missing project dir: %s", data)
	}

	sup.Stop()
	if _, err := os.Stat(authPath); !os.IsNotExist(err) {
		t.Fatal("auth snapshot should be cleared on stop")
	}
}

func TestStartOrchestratedTimesOutOnSilentDaemon(t *testing.T) {
	setupDirectEnv(t, "exec /bin/sleep 60\n")
	dir := t.TempDir()
	// Daemon stand-in that never serves health.
	daemon := writeScript(t, dir, "openwork-orchestrator", "exec /bin/sleep 60\n")
	dataDir := t.TempDir()
	t.Setenv("OPENWORK_ORCHESTRATOR_BIN", daemon)
	t.Setenv("DOWHAT_DATA_DIR", dataDir)
	t.Setenv("DOWHAT_ORCHESTRATOR_START_TIMEOUT_MS", "1000")

	sup := New(Options{Settings: settings.Default()})
	t.Cleanup(sup.Stop)

	_, err := sup.Start(context.Background(), StartOptions{
		ProjectDir: t.TempDir(),
		Mode:       ModeOrchestrated,
	})
	if err == nil {
		t.Fatal("expected health wait to fail")
	}

	// The failed start must release the data dir lock and clear the auth
	// snapshot so a retry can proceed.
	if _, err := os.Stat(filepath.Join(dataDir, "openwork-orchestrator-auth.json")); !os.IsNotExist(err) {
		t.Fatal("auth snapshot should be cleared after a failed start")
	}
	if snap := sup.Daemon.Snapshot(); snap.Running {
		t.Fatalf("daemon registry should be stopped: %+v", snap)
	}

	t.Setenv("OPENWORK_ORCHESTRATOR_BIN", daemon)
	_, err = sup.Start(context.Background(), StartOptions{
		ProjectDir: t.TempDir(),
		Mode:       ModeOrchestrated,
	})
	if err == nil {
		t.Fatal("expected second attempt to fail the same way")
	}
	if strings.Contains(err.Error(), "already managing") {
		t.Fatalf("lock was not released after the first failure: %v", err)
	}
}
