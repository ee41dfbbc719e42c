package orchestrator

import (
	"net/http"
	"strings"
)

// Status is the merged daemon view used by info queries: live health data
// when the daemon answers, otherwise whatever the state file recorded.
type Status struct {
	Running        bool         `json:"running"`
	DataDir        string       `json:"dataDir"`
	Daemon         *DaemonState `json:"daemon,omitempty"`
	Engine         *EngineState `json:"opencode,omitempty"`
	CLIVersion     string       `json:"cliVersion,omitempty"`
	ActiveID       string       `json:"activeId,omitempty"`
	WorkspaceCount int          `json:"workspaceCount"`
	Workspaces     []Workspace  `json:"workspaces,omitempty"`
	LastError      string       `json:"lastError,omitempty"`
}

// StatusFromState builds a not-running Status from the persisted state file.
func StatusFromState(dataDir, lastError string) Status {
	status := Status{
		Running:   false,
		DataDir:   dataDir,
		LastError: lastError,
	}

	state := ReadStateFile(dataDir)
	if state == nil {
		return status
	}
	status.Daemon = state.Daemon
	status.Engine = state.Engine
	status.CLIVersion = state.CLIVersion
	status.Workspaces = state.Workspaces
	status.WorkspaceCount = len(state.Workspaces)
	if id := strings.TrimSpace(state.ActiveID); id != "" {
		status.ActiveID = id
	}
	return status
}

// ResolveStatus prefers a live health probe against the daemon recorded in
// the state file, falling back to the state file itself when the daemon does
// not answer.
func ResolveStatus(client *http.Client, dataDir, lastError string) Status {
	fallback := StatusFromState(dataDir, lastError)
	if fallback.Daemon == nil || fallback.Daemon.BaseURL == "" {
		return fallback
	}

	health, err := FetchHealth(client, fallback.Daemon.BaseURL)
	if err != nil {
		fallback.LastError = err.Error()
		return fallback
	}

	status := Status{
		Running:    health.OK,
		DataDir:    dataDir,
		Daemon:     health.Daemon,
		Engine:     health.Engine,
		CLIVersion: health.CLIVersion,
	}

	workspaces, wErr := FetchWorkspaces(client, fallback.Daemon.BaseURL)
	if wErr == nil && workspaces != nil {
		status.Workspaces = workspaces.Workspaces
		status.WorkspaceCount = len(workspaces.Workspaces)
		status.ActiveID = strings.TrimSpace(workspaces.ActiveID)
	} else {
		status.Workspaces = fallback.Workspaces
		status.WorkspaceCount = health.WorkspaceCount
		if status.WorkspaceCount == 0 {
			status.WorkspaceCount = len(fallback.Workspaces)
		}
	}
	if status.ActiveID == "" {
		status.ActiveID = strings.TrimSpace(health.ActiveID)
	}
	return status
}
