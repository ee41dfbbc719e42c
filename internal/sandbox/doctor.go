package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// DoctorResult summarizes container runtime readiness.
type DoctorResult struct {
	Installed     bool   `json:"installed"`
	DaemonRunning bool   `json:"daemonRunning"`
	PermissionOK  bool   `json:"permissionOk"`
	Ready         bool   `json:"ready"`
	ClientVersion string `json:"clientVersion,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Error         string `json:"error,omitempty"`

	Debug *DoctorDebug `json:"debug,omitempty"`
}

// DoctorDebug records what the doctor actually ran.
type DoctorDebug struct {
	Candidates     []string      `json:"candidates"`
	SelectedBin    string        `json:"selectedBin,omitempty"`
	VersionCommand *CommandDebug `json:"versionCommand,omitempty"`
	InfoCommand    *CommandDebug `json:"infoCommand,omitempty"`
}

// CommandDebug is one probe command's outcome, outputs truncated.
type CommandDebug struct {
	Status int    `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Doctor probes the container runtime: `--version` answers "installed",
// `docker info` answers "daemon reachable with sufficient permissions".
// When info fails, its output is classified so the UI can say whether the
// daemon is down or the user lacks access.
func (c *Controller) Doctor() DoctorResult {
	debug := &DoctorDebug{Candidates: ResolveRuntimeCandidates()}

	version, err := runRuntimeCommand([]string{"--version"}, 2*time.Second)
	if err != nil {
		return DoctorResult{Error: err.Error(), Debug: debug}
	}
	debug.SelectedBin = version.program
	debug.VersionCommand = &CommandDebug{
		Status: version.status,
		Stdout: truncateForDebug(version.stdout),
		Stderr: truncateForDebug(version.stderr),
	}

	if version.status != 0 {
		return DoctorResult{
			Error: fmt.Sprintf("docker --version failed (status %d): %s", version.status, strings.TrimSpace(version.stderr)),
			Debug: debug,
		}
	}
	clientVersion := parseClientVersion(version.stdout)

	info, err := runRuntimeCommand([]string{"info"}, 8*time.Second)
	if err != nil {
		return DoctorResult{
			Installed:     true,
			ClientVersion: clientVersion,
			Error:         err.Error(),
			Debug:         debug,
		}
	}
	debug.InfoCommand = &CommandDebug{
		Status: info.status,
		Stdout: truncateForDebug(info.stdout),
		Stderr: truncateForDebug(info.stderr),
	}

	if info.status == 0 {
		return DoctorResult{
			Installed:     true,
			DaemonRunning: true,
			PermissionOK:  true,
			Ready:         true,
			ClientVersion: clientVersion,
			ServerVersion: parseServerVersion(info.stdout),
			Debug:         debug,
		}
	}

	combined := strings.TrimSpace(strings.TrimSpace(info.stdout) + "\n" + strings.TrimSpace(info.stderr))
	lower := strings.ToLower(combined)

	permissionOK := !containsAny(lower,
		"permission denied",
		"got permission denied",
		"access is denied",
	)
	daemonRunning := !containsAny(lower,
		"cannot connect to the docker daemon",
		"is the docker daemon running",
		"error during connect",
		"connection refused",
		"failed to connect to the docker api",
		"dial unix",
		"connect: no such file or directory",
		"no such file or directory",
	)

	errMsg := combined
	if errMsg == "" {
		errMsg = fmt.Sprintf("docker info failed (status %d)", info.status)
	}
	return DoctorResult{
		Installed:     true,
		DaemonRunning: daemonRunning,
		PermissionOK:  permissionOK,
		ClientVersion: clientVersion,
		Error:         errMsg,
		Debug:         debug,
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
