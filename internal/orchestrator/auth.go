// Package orchestrator manages the orchestrator daemon: data-dir resolution,
// the persisted auth snapshot, daemon spawn arguments, the health protocol
// and the daemon process registry.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openwork/desktop-core/internal/runtimeenv"
)

const (
	authFileName  = "openwork-orchestrator-auth.json"
	stateFileName = "openwork-orchestrator-state.json"
)

// AuthSnapshot is the persisted engine credential handoff. External tools
// read this file from the daemon data dir, so the key names are fixed.
type AuthSnapshot struct {
	Username   string `json:"opencodeUsername,omitempty"`
	Password   string `json:"opencodePassword,omitempty"`
	ProjectDir string `json:"projectDir,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

// ResolveDataDir picks the daemon data directory: DOWHAT_DATA_DIR, then
// OPENWORK_DATA_DIR, then ~/.do-what/do-what-orchestrator. The legacy
// ~/.openwork/openwork-orchestrator tree is used only when it exists and the
// new one does not.
func ResolveDataDir() string {
	for _, key := range []string{"DOWHAT_DATA_DIR", "OPENWORK_DATA_DIR"} {
		if dir := strings.TrimSpace(os.Getenv(key)); dir != "" {
			return dir
		}
	}

	home := runtimeenv.HomeDir()
	if home == "" {
		return filepath.Join(".do-what", "do-what-orchestrator")
	}

	current := filepath.Join(home, ".do-what", "do-what-orchestrator")
	legacy := filepath.Join(home, ".openwork", "openwork-orchestrator")
	if pathExists(legacy) && !pathExists(current) {
		return legacy
	}
	return current
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func authPath(dataDir string) string {
	return filepath.Join(dataDir, authFileName)
}

func statePath(dataDir string) string {
	return filepath.Join(dataDir, stateFileName)
}

// ReadAuthSnapshot loads the auth snapshot; nil when absent or unreadable.
func ReadAuthSnapshot(dataDir string) *AuthSnapshot {
	payload, err := os.ReadFile(authPath(dataDir))
	if err != nil {
		return nil
	}
	var snap AuthSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil
	}
	return &snap
}

// WriteAuthSnapshot persists the credentials atomically with a fresh
// updatedAt stamp. The data dir is created if needed.
func WriteAuthSnapshot(dataDir, username, password, projectDir string) error {
	path := authPath(dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	snap := AuthSnapshot{
		Username:   username,
		Password:   password,
		ProjectDir: projectDir,
		UpdatedAt:  time.Now().UnixMilli(),
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ClearAuthSnapshot removes the auth snapshot, ignoring a missing file.
func ClearAuthSnapshot(dataDir string) {
	_ = os.Remove(authPath(dataDir))
}
