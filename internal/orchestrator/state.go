package orchestrator

import (
	"encoding/json"
	"os"
)

// DaemonState describes the running daemon as recorded by the daemon itself.
type DaemonState struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	BaseURL   string `json:"baseUrl"`
	StartedAt int64  `json:"startedAt"`
}

// EngineState describes the engine endpoint the daemon supervises. The wire
// key is "opencode" for compatibility with the daemon's state format.
type EngineState struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	BaseURL   string `json:"baseUrl"`
	StartedAt int64  `json:"startedAt"`
}

// Workspace is one daemon-registered workspace.
type Workspace struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	WorkspaceType string `json:"workspaceType"`
	BaseURL       string `json:"baseUrl,omitempty"`
	Directory     string `json:"directory,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	LastUsedAt    int64  `json:"lastUsedAt,omitempty"`
}

// StateFile is the daemon's persisted state document.
type StateFile struct {
	Version    int          `json:"version,omitempty"`
	Daemon     *DaemonState `json:"daemon,omitempty"`
	Engine     *EngineState `json:"opencode,omitempty"`
	CLIVersion string       `json:"cliVersion,omitempty"`
	ActiveID   string       `json:"activeId,omitempty"`
	Workspaces []Workspace  `json:"workspaces,omitempty"`
}

// ReadStateFile loads the daemon state file from dataDir; nil when absent or
// malformed.
func ReadStateFile(dataDir string) *StateFile {
	payload, err := os.ReadFile(statePath(dataDir))
	if err != nil {
		return nil
	}
	var state StateFile
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil
	}
	return &state
}
