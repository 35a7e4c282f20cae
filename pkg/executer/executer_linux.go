//go:build linux

package executer

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func (e *commonExecuter) CommandContext(ctx context.Context, command string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, command, args...)

	// Setpgid puts the tool and anything it forks (qemu helpers, wic's
	// debugfs/mtools children) in one group so teardown reaches all of them.
	// Pdeathsig covers the harness itself dying mid-test.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}

	cmd.Env = append(os.Environ(), e.env...)

	// if context is canceled, kill the entire process group
	cmd.Cancel = func() error {
		return KillGroup(cmd)
	}

	return cmd
}

// KillGroup sends SIGKILL to the process group of a command started by CommandContext.
func KillGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if cmd.SysProcAttr != nil && (cmd.SysProcAttr.Setpgid || cmd.SysProcAttr.Setsid) {
		// negative PID kills the process group
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}
