package engine

import (
	"os"
	"os/exec"
	"strings"

	"github.com/openwork/desktop-core/internal/output"
	"github.com/openwork/desktop-core/internal/runtimeenv"
)

const doctorOutputMax = 4000

// DoctorResult summarizes an engine installation check.
type DoctorResult struct {
	Found         bool     `json:"found"`
	InPath        bool     `json:"inPath"`
	ResolvedPath  string   `json:"resolvedPath,omitempty"`
	Version       string   `json:"version,omitempty"`
	SupportsServe bool     `json:"supportsServe"`
	ServeStatus   int      `json:"serveStatus,omitempty"`
	ServeStdout   string   `json:"serveStdout,omitempty"`
	ServeStderr   string   `json:"serveStderr,omitempty"`
	Notes         []string `json:"notes,omitempty"`
}

// Doctor resolves the engine binary and probes it with `--version` and
// `serve --help` so the UI can explain a broken installation.
func Doctor() DoctorResult {
	path, inPath, notes := ResolveBinary()
	result := DoctorResult{
		Found:        path != "",
		InPath:       inPath,
		ResolvedPath: path,
		Notes:        notes,
	}
	if path == "" {
		return result
	}

	result.Version = binaryVersion(path)
	ok, status, stdout, stderr := serveHelp(path)
	result.SupportsServe = ok
	result.ServeStatus = status
	result.ServeStdout = stdout
	result.ServeStderr = stderr
	return result
}

func probeEnv() []string {
	return runtimeenv.ApplyVars(os.Environ(), runtimeenv.DNSOverrides())
}

func binaryVersion(path string) string {
	cmd := exec.Command(path, "--version")
	cmd.Env = probeEnv()
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func serveHelp(path string) (ok bool, status int, stdout, stderr string) {
	cmd := exec.Command(path, "serve", "--help")
	cmd.Env = probeEnv()

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	status = -1
	if cmd.ProcessState != nil {
		status = cmd.ProcessState.ExitCode()
	}
	ok = err == nil

	stdout = output.Truncate(strings.TrimSpace(outBuf.String()), doctorOutputMax)
	stderr = output.Truncate(strings.TrimSpace(errBuf.String()), doctorOutputMax)
	return ok, status, stdout, stderr
}
