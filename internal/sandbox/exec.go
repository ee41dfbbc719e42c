package sandbox

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/openwork/desktop-core/internal/procchild"
)

const debugOutputMax = 1200

type commandResult struct {
	status  int
	stdout  string
	stderr  string
	program string
}

func truncateForDebug(input string) string {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) <= debugOutputMax {
		return trimmed
	}
	return trimmed[:debugOutputMax] + "...[truncated]"
}

func runCommand(program string, args ...string) (int, string, string, error) {
	cmd := exec.Command(program, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	status := -1
	if cmd.ProcessState != nil {
		status = cmd.ProcessState.ExitCode()
	}
	if err != nil && cmd.ProcessState == nil {
		return -1, "", "", fmt.Errorf("failed to run %s: %w", program, err)
	}
	return status, stdout.String(), stderr.String(), nil
}

// runCommandWithTimeout executes program with a hard wall-clock bound. On
// timeout the whole process group is force-killed and both output readers are
// joined before the error is returned, so no goroutine outlives the call.
func runCommandWithTimeout(program string, args []string, timeout time.Duration) (int, string, string, error) {
	cmd := exec.Command(program, args...)
	procchild.SetProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, "", "", err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return -1, "", "", err
	}
	if err := cmd.Start(); err != nil {
		return -1, "", "", fmt.Errorf("failed to run %s: %w", program, err)
	}

	// Readers are joined before Wait so Wait never closes a pipe mid-read.
	var stdoutBuf, stderrBuf []byte
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		stdoutBuf, _ = io.ReadAll(stdoutPipe)
	}()
	go func() {
		defer readers.Done()
		stderrBuf, _ = io.ReadAll(stderrPipe)
	}()

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	timedOut := false
	select {
	case <-waitCh:
	case <-time.After(timeout):
		timedOut = true
		_ = procchild.KillProcessGroupByPID(cmd.Process.Pid)
		<-waitCh
	}

	stdout := string(stdoutBuf)
	stderr := string(stderrBuf)

	if timedOut {
		return -1, stdout, stderr, fmt.Errorf("timed out after %dms running %s %s",
			timeout.Milliseconds(), program, strings.Join(args, " "))
	}

	status := -1
	if cmd.ProcessState != nil {
		status = cmd.ProcessState.ExitCode()
	}
	return status, stdout, stderr, nil
}
