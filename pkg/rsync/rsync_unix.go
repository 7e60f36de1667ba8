//go:build !windows

package rsync

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand starts rsync as the leader of a new process group, so a cancel
// signals rsync together with the remote-shell and receiver processes it forks.
func (e *Executor) createCommand(ctx context.Context, args []string) *exec.Cmd {
	cmd := e.commandContext(ctx, e.binary, args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	return cmd
}
