package runtimeenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeDir returns the user home directory from HOME, falling back to
// USERPROFILE. Empty when neither is set.
func HomeDir() string {
	if home := strings.TrimSpace(os.Getenv("HOME")); home != "" {
		return home
	}
	if profile := strings.TrimSpace(os.Getenv("USERPROFILE")); profile != "" {
		return profile
	}
	return ""
}

// PathEntries splits the current PATH into its entries.
func PathEntries() []string {
	path := os.Getenv("PATH")
	if path == "" {
		return nil
	}
	return filepath.SplitList(path)
}

// ResolveInPath finds name in PATH, requiring a regular executable file.
// Empty string when not found.
func ResolveInPath(name string) string {
	for _, dir := range PathEntries() {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if IsExecutableFile(candidate) {
			return candidate
		}
	}
	return ""
}

// IsExecutableFile reports whether path is a regular file the current user
// could execute. On Windows the mode bits are meaningless, so any regular
// file passes.
func IsExecutableFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode()&0o111 != 0
}

// commonToolPaths lists directories where user-installed tools usually live.
// GUI apps don't inherit shell profile PATH edits, so Homebrew, nvm, volta
// and friends are invisible unless these are added explicitly.
func commonToolPaths() []string {
	var paths []string
	home := HomeDir()

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"/opt/homebrew/bin",
			"/opt/homebrew/sbin",
			"/usr/local/bin",
			"/usr/local/sbin",
		)
		if home != "" {
			paths = append(paths,
				filepath.Join(home, ".nvm/current/bin"),
				filepath.Join(home, ".fnm/current/bin"),
				filepath.Join(home, ".volta/bin"),
				filepath.Join(home, "Library/pnpm"),
				filepath.Join(home, ".bun/bin"),
				filepath.Join(home, ".cargo/bin"),
				filepath.Join(home, ".pyenv/shims"),
				filepath.Join(home, ".local/bin"),
			)
		}
	case "windows":
		if home != "" {
			paths = append(paths,
				filepath.Join(home, ".volta/bin"),
				filepath.Join(home, ".bun/bin"),
				filepath.Join(home, ".cargo/bin"),
			)
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			paths = append(paths, filepath.Join(local, "pnpm"))
		}
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "npm"))
		}
	default:
		paths = append(paths,
			"/usr/local/bin",
			"/usr/local/sbin",
		)
		if home != "" {
			paths = append(paths,
				filepath.Join(home, ".nvm/current/bin"),
				filepath.Join(home, ".fnm/current/bin"),
				filepath.Join(home, ".volta/bin"),
				filepath.Join(home, ".local/share/pnpm"),
				filepath.Join(home, ".bun/bin"),
				filepath.Join(home, ".cargo/bin"),
				filepath.Join(home, ".pyenv/shims"),
				filepath.Join(home, ".local/bin"),
			)
		}
	}

	return paths
}

// PrependedPathEnv builds a PATH value with prefixes first, then the common
// tool directories, then the inherited PATH, deduplicated in order. Only
// directories that exist are added from the first two groups. The second
// result is false when the combined list is empty.
func PrependedPathEnv(prefixes []string) (string, bool) {
	var entries []string
	seen := make(map[string]bool)

	add := func(dir string, mustExist bool) {
		if dir == "" || seen[dir] {
			return
		}
		if mustExist {
			fi, err := os.Stat(dir)
			if err != nil || !fi.IsDir() {
				return
			}
		}
		seen[dir] = true
		entries = append(entries, dir)
	}

	for _, prefix := range prefixes {
		add(prefix, true)
	}
	for _, dir := range commonToolPaths() {
		add(dir, true)
	}
	for _, dir := range PathEntries() {
		add(dir, false)
	}

	if len(entries) == 0 {
		return "", false
	}
	return strings.Join(entries, string(os.PathListSeparator)), true
}
