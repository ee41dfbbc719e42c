// Package sandbox controls container-backed detached workspace hosts: it
// resolves a usable container runtime binary, launches the orchestrator in
// detached sandbox mode, reports granular startup progress, and offers
// doctor/stop/cleanup operations over the containers it owns.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/openwork/desktop-core/internal/runtimeenv"
)

// runtimeBinOverrideEnv lists the env overrides honored when picking a
// docker binary, most specific first.
var runtimeBinOverrideEnv = []string{"OPENWORK_DOCKER_BIN", "OPENWRK_DOCKER_BIN", "DOCKER_BIN"}

var wellKnownDockerPaths = []string{
	"/opt/homebrew/bin/docker",
	"/usr/local/bin/docker",
	"/Applications/Docker.app/Contents/Resources/bin/docker",
}

// parsePathExportValue extracts the PATH value from `path_helper -s` output,
// which prints shell exports such as:
//
//	PATH="/usr/local/bin:/usr/bin:/bin"; export PATH;
func parsePathExportValue(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		after, ok := strings.CutPrefix(trimmed, "PATH=")
		if !ok {
			continue
		}
		after = strings.TrimSpace(after)
		if after == "" {
			continue
		}
		quote := after[0]
		if quote != '"' && quote != '\'' {
			continue
		}
		rest := after[1:]
		if end := strings.IndexByte(rest, quote); end >= 0 {
			return rest[:end], true
		}
	}
	return "", false
}

// ResolveRuntimeCandidates lists plausible docker binaries in probe order:
// explicit env overrides, PATH, the macOS login PATH from path_helper, and
// well-known install locations. Only existing executable files survive.
func ResolveRuntimeCandidates() []string {
	var out []string
	seen := make(map[string]bool)

	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, key := range runtimeBinOverrideEnv {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			add(raw)
		}
	}

	for _, dir := range runtimeenv.PathEntries() {
		if dir != "" {
			add(filepath.Join(dir, "docker"))
		}
	}

	// GUI apps on macOS may not inherit the login shell PATH.
	if runtime.GOOS == "darwin" {
		if status, stdout, _, err := runCommand("/usr/libexec/path_helper", "-s"); err == nil && status == 0 {
			if pathValue, ok := parsePathExportValue(stdout); ok {
				for _, dir := range filepath.SplitList(pathValue) {
					if dir != "" {
						add(filepath.Join(dir, "docker"))
					}
				}
			}
		}
	}

	for _, p := range wellKnownDockerPaths {
		add(p)
	}

	filtered := out[:0]
	for _, p := range out {
		if runtimeenv.IsExecutableFile(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// runRuntimeCommand tries each candidate binary in turn, finishing with a
// bare "docker" in case the OS resolves it differently than we do. A
// candidate that fails to execute (including by timeout) falls through to
// the next; the combined error carries every failure plus a hint.
func runRuntimeCommand(args []string, timeout time.Duration) (commandResult, error) {
	programs := ResolveRuntimeCandidates()
	programs = append(programs, "docker")

	var errs []string
	for _, program := range programs {
		status, stdout, stderr, err := runCommandWithTimeout(program, args, timeout)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		return commandResult{status: status, stdout: stdout, stderr: stderr, program: program}, nil
	}

	const hint = "Set OPENWORK_DOCKER_BIN (or OPENWRK_DOCKER_BIN) to your docker binary, e.g. /opt/homebrew/bin/docker"
	return commandResult{}, fmt.Errorf("failed to run docker: %s (%s)", strings.Join(errs, "; "), hint)
}

// ContainerState inspects a container. The bool result reports existence:
// a "no such object" style answer is (_, false, nil) rather than an error,
// so progress reporting is never blocked by a not-yet-created container.
func ContainerState(name string) (string, bool, error) {
	result, err := runRuntimeCommand([]string{"inspect", "-f", "{{.State.Status}}", name}, 2*time.Second)
	if err != nil {
		return "", false, fmt.Errorf("docker inspect failed: %w", err)
	}
	if result.status == 0 {
		state := strings.TrimSpace(result.stdout)
		return state, state != "", nil
	}

	combined := strings.ToLower(strings.TrimSpace(result.stdout) + "\n" + strings.TrimSpace(result.stderr))
	for _, marker := range []string{"no such object", "not found", "does not exist"} {
		if strings.Contains(combined, marker) {
			return "", false, nil
		}
	}
	return "", false, fmt.Errorf("docker inspect %s returned status %d (stderr: %s)",
		result.program, result.status, truncateForDebug(result.stderr))
}

// listManagedContainers returns the sorted, deduplicated names of all
// containers this app manages, running or not.
func listManagedContainers() ([]string, error) {
	result, err := runRuntimeCommand([]string{"ps", "-a", "--format", "{{.Names}}"}, 8*time.Second)
	if err != nil {
		return nil, err
	}
	if result.status != 0 {
		combined := strings.TrimSpace(strings.TrimSpace(result.stdout) + "\n" + strings.TrimSpace(result.stderr))
		if combined == "" {
			return nil, fmt.Errorf("docker ps -a failed (status %d)", result.status)
		}
		return nil, fmt.Errorf("docker ps -a failed (status %d): %s", result.status, combined)
	}

	var names []string
	for _, line := range strings.Split(result.stdout, "\n") {
		name := strings.TrimSpace(line)
		if name != "" && IsManagedContainer(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = dedupSorted(names)
	return names, nil
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func parseClientVersion(stdout string) string {
	line := strings.TrimSpace(strings.Split(stdout, "\n")[0])
	if !strings.HasPrefix(strings.ToLower(line), "docker version") {
		return ""
	}
	return line
}

func parseServerVersion(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "Server Version:"); ok {
			if value := strings.TrimSpace(rest); value != "" {
				return value
			}
		}
	}
	return ""
}
