// Package workspace prepares project directories for the engine: it makes
// sure an opencode config file exists so the engine picks up the directory
// as a workspace.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configFileNames lists the files the engine accepts, preferred first.
var configFileNames = []string{"opencode.json", "opencode.jsonc"}

// defaultConfig is the minimal config written into fresh workspaces.
const defaultConfig = "{\n  \"$schema\": \"https://opencode.ai/config.json\"\n}\n"

// ConfigExists reports whether dir already carries an engine config file.
func ConfigExists(dir string) bool {
	for _, name := range configFileNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// WriteDefaultConfig writes the minimal opencode.json via a temp file and
// rename so a crash never leaves a half-written config behind.
func WriteDefaultConfig(dir string) error {
	d := strings.TrimSpace(dir)
	if d == "" {
		return errors.New("missing workspace directory")
	}
	target := filepath.Join(d, configFileNames[0])

	tmp, err := os.CreateTemp(d, ".opencode-*.json")
	if err != nil {
		return fmt.Errorf("failed to create config temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(defaultConfig); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to install config: %w", err)
	}
	return nil
}

// EnsureConfig creates the workspace directory if needed and seeds the
// default config unless one is already present.
func EnsureConfig(dir string) error {
	d := strings.TrimSpace(dir)
	if d == "" {
		return errors.New("missing workspace directory")
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	if ConfigExists(d) {
		return nil
	}
	return WriteDefaultConfig(d)
}
