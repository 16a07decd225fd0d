//go:build unix

package ops

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs cmd in its own process group so cancellation reaches
// every process the command spawned, not just the shell.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
