//go:build !windows

package procchild

import (
	"os/exec"
	"syscall"
)

func setCmdProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	// Create a new process group for the child so we can kill the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SetProcessGroup places cmd in its own process group so callers can kill
// the whole tree with KillProcessGroupByPID.
func SetProcessGroup(cmd *exec.Cmd) {
	setCmdProcessGroup(cmd)
}

func killCmdProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return KillProcessGroupByPID(cmd.Process.Pid)
}

// KillProcessGroupByPID SIGKILLs the group led by pid, then pid itself.
func KillProcessGroupByPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
	return nil
}
