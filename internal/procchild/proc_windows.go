//go:build windows

package procchild

import (
	"os"
	"os/exec"
)

func setCmdProcessGroup(cmd *exec.Cmd) {
	// Process groups are not used on Windows; Kill targets the child only.
}

// SetProcessGroup is a no-op on Windows.
func SetProcessGroup(cmd *exec.Cmd) {
	setCmdProcessGroup(cmd)
}

func killCmdProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// KillProcessGroupByPID kills the process with the given pid.
func KillProcessGroupByPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
