package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// ExecutableName returns the engine binary name for this platform.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "opencode.exe"
	}
	return "opencode"
}

func executableCmdName() string {
	return "opencode.cmd"
}

// CandidatePaths lists well-known install locations checked after PATH.
func CandidatePaths() []string {
	var candidates []string

	if home := runtimeenv.HomeDir(); home != "" {
		candidates = append(candidates, filepath.Join(home, ".opencode", "bin", ExecutableName()))
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			base := filepath.Join(appData, "npm")
			candidates = append(candidates, filepath.Join(base, ExecutableName()), filepath.Join(base, executableCmdName()))
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			npm := filepath.Join(local, "npm")
			candidates = append(candidates,
				filepath.Join(npm, ExecutableName()),
				filepath.Join(npm, executableCmdName()),
				filepath.Join(local, "OpenCode", ExecutableName()),
			)
		}
		if home := runtimeenv.HomeDir(); home != "" {
			shims := filepath.Join(home, "scoop", "shims")
			candidates = append(candidates, filepath.Join(shims, ExecutableName()), filepath.Join(shims, executableCmdName()))
		}
		choco := `C:\ProgramData\chocolatey\bin`
		candidates = append(candidates, filepath.Join(choco, ExecutableName()), filepath.Join(choco, executableCmdName()))
		return candidates
	}

	candidates = append(candidates,
		filepath.Join("/opt/homebrew/bin", ExecutableName()),
		filepath.Join("/usr/local/bin", ExecutableName()),
		filepath.Join("/usr/bin", ExecutableName()),
	)
	return candidates
}

func resolveEnvOverride() (string, []string) {
	var notes []string
	custom := strings.TrimSpace(os.Getenv("OPENCODE_BIN_PATH"))
	if custom == "" {
		return "", notes
	}
	if fi, err := os.Stat(custom); err == nil && fi.Mode().IsRegular() {
		notes = append(notes, fmt.Sprintf("Using OPENCODE_BIN_PATH: %s", custom))
		return custom, notes
	}
	notes = append(notes, fmt.Sprintf("OPENCODE_BIN_PATH set but missing: %s", custom))
	return "", notes
}

// ResolveBinary locates the engine binary: OPENCODE_BIN_PATH override first,
// then PATH, then well-known install locations. inPath is true only for the
// PATH case, and notes records each location probed.
func ResolveBinary() (path string, inPath bool, notes []string) {
	override, notes := resolveEnvOverride()
	if override != "" {
		return override, false, notes
	}

	if p := runtimeenv.ResolveInPath(ExecutableName()); p != "" {
		notes = append(notes, fmt.Sprintf("Found in PATH: %s", p))
		return p, true, notes
	}
	if runtime.GOOS == "windows" {
		if p := runtimeenv.ResolveInPath(executableCmdName()); p != "" {
			notes = append(notes, fmt.Sprintf("Found in PATH: %s", p))
			return p, true, notes
		}
	}
	notes = append(notes, "Not found on PATH")

	for _, candidate := range CandidatePaths() {
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			notes = append(notes, fmt.Sprintf("Found at %s", candidate))
			return candidate, false, notes
		}
		notes = append(notes, fmt.Sprintf("Missing: %s", candidate))
	}

	return "", false, notes
}
