package runtimeenv

import (
	"os"
	"path/filepath"
	"runtime"
)

const macAppSupportDir = "Library/Application Support"

// CandidateXDGDataDirs lists bases that may already hold the engine's data
// tree when XDG_DATA_HOME was never exported.
func CandidateXDGDataDirs() []string {
	home := HomeDir()
	if home == "" {
		return nil
	}
	dirs := []string{
		filepath.Join(home, ".local", "share"),
		filepath.Join(home, ".config"),
	}
	if runtime.GOOS == "darwin" {
		dirs = append(dirs, filepath.Join(home, macAppSupportDir))
	}
	return dirs
}

// CandidateXDGConfigDirs lists bases that may hold the engine's config tree.
func CandidateXDGConfigDirs() []string {
	home := HomeDir()
	if home == "" {
		return nil
	}
	dirs := []string{filepath.Join(home, ".config")}
	if runtime.GOOS == "darwin" {
		dirs = append(dirs, filepath.Join(home, macAppSupportDir))
	}
	return dirs
}

// MaybeInferXDGHome picks the first candidate base containing relativeMarker
// as a file, but only when varName is not already set: an explicit XDG value
// always wins. The second result is false when nothing should be exported.
func MaybeInferXDGHome(varName string, candidates []string, relativeMarker string) (string, bool) {
	if _, ok := os.LookupEnv(varName); ok {
		return "", false
	}
	for _, base := range candidates {
		fi, err := os.Stat(filepath.Join(base, relativeMarker))
		if err == nil && fi.Mode().IsRegular() {
			return base, true
		}
	}
	return "", false
}
