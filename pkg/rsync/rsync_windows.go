//go:build windows

package rsync

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand starts rsync (e.g. from cwRsync or MSYS2) in a new process group.
func (e *Executor) createCommand(ctx context.Context, args []string) *exec.Cmd {
	cmd := e.commandContext(ctx, e.binary, args...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
