package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeStateFile(t *testing.T, dataDir string, state StateFile) {
	t.Helper()
	payload, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "openwork-orchestrator-state.json"), payload, 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}
}

func TestStatusFromStateFallback(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeStateFile(t, dataDir, StateFile{
		Version:    1,
		Daemon:     &DaemonState{PID: 10, Port: 9000, BaseURL: "http://127.0.0.1:9000"},
		CLIVersion: "0.4.2",
		ActiveID:   "ws-1",
		Workspaces: []Workspace{{ID: "ws-1", Name: "main", Path: "/work"}},
	})

	status := StatusFromState(dataDir, "daemon never answered")
	if status.Running {
		t.Fatal("StatusFromState().Running = true")
	}
	if status.Daemon == nil || status.Daemon.Port != 9000 || status.CLIVersion != "0.4.2" {
		t.Fatalf("StatusFromState() = %+v", status)
	}
	if status.WorkspaceCount != 1 || status.ActiveID != "ws-1" {
		t.Fatalf("StatusFromState() workspaces = %+v", status)
	}
	if status.LastError != "daemon never answered" {
		t.Fatalf("StatusFromState().LastError = %q", status.LastError)
	}
}

func TestResolveStatusPrefersLiveHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(Health{
				OK:         true,
				Daemon:     &DaemonState{PID: 20, Port: 9100, BaseURL: "http://127.0.0.1:9100"},
				Engine:     &EngineState{PID: 21, Port: 9101, BaseURL: "http://127.0.0.1:9101"},
				CLIVersion: "0.5.0",
			})
		case "/workspaces":
			_ = json.NewEncoder(w).Encode(WorkspaceList{
				ActiveID:   "ws-live",
				Workspaces: []Workspace{{ID: "ws-live", Path: "/live"}, {ID: "ws-2", Path: "/other"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	writeStateFile(t, dataDir, StateFile{
		Daemon: &DaemonState{PID: 10, Port: 9000, BaseURL: srv.URL},
	})

	status := ResolveStatus(srv.Client(), dataDir, "")
	if !status.Running {
		t.Fatalf("ResolveStatus().Running = false: %+v", status)
	}
	if status.Engine == nil || status.Engine.Port != 9101 {
		t.Fatalf("ResolveStatus().Engine = %+v", status.Engine)
	}
	if status.WorkspaceCount != 2 || status.ActiveID != "ws-live" {
		t.Fatalf("ResolveStatus() workspaces = %+v", status)
	}
	if status.LastError != "" {
		t.Fatalf("ResolveStatus().LastError = %q, want empty", status.LastError)
	}
}

func TestResolveStatusFallsBackWhenDaemonSilent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // make the recorded daemon unreachable

	dataDir := t.TempDir()
	writeStateFile(t, dataDir, StateFile{
		Daemon: &DaemonState{PID: 10, Port: 9000, BaseURL: srv.URL},
	})

	status := ResolveStatus(http.DefaultClient, dataDir, "")
	if status.Running {
		t.Fatal("ResolveStatus().Running = true for unreachable daemon")
	}
	if status.LastError == "" {
		t.Fatal("ResolveStatus().LastError empty, want probe failure recorded")
	}
}
