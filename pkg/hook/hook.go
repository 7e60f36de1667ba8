// Package hook runs the shell commands a job defines around its backup.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Environment variables exported to hook commands.
const (
	EnvJob         = "PGL_RSYNC_JOB"
	EnvSource      = "PGL_RSYNC_SOURCE"
	EnvDestination = "PGL_RSYNC_DESTINATION"
	EnvTimestamp   = "PGL_RSYNC_TIMESTAMP"
	EnvExitCode    = "PGL_RSYNC_EXIT_CODE"
	EnvDryRun      = "PGL_RSYNC_DRY_RUN"
)

// Context describes the backup a hook runs around.
type Context struct {
	Job         string
	Source      string
	Destination string
	// ExitCode is the rsync exit code; only meaningful for post hooks.
	ExitCode int
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	stdout         io.Writer
	stderr         io.Writer
}

// NewHookExecutor creates a new HookExecutor. A nil commandContext uses exec.CommandContext.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
	}
}

func (e *HookExecutor) RunPreHook(ctx context.Context, hc Context, p *Plan, timestampUTC time.Time) error {
	if !p.Enabled {
		return ErrDisabled
	}
	return e.run(ctx, "Pre-backup", p.PreHookCommands, hc, p, timestampUTC)
}

func (e *HookExecutor) RunPostHook(ctx context.Context, hc Context, p *Plan, timestampUTC time.Time) error {
	if !p.Enabled {
		return ErrDisabled
	}
	return e.run(ctx, "Post-backup", p.PostHookCommands, hc, p, timestampUTC)
}

func (e *HookExecutor) run(ctx context.Context, hookName string, commands []string, hc Context, p *Plan, timestampUTC time.Time) error {
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", hookName), "job", hc.Job)

	env := []string{
		EnvJob + "=" + hc.Job,
		EnvSource + "=" + hc.Source,
		EnvDestination + "=" + hc.Destination,
		EnvTimestamp + "=" + timestampUTC.Format(time.RFC3339),
		EnvExitCode + "=" + strconv.Itoa(hc.ExitCode),
		EnvDryRun + "=" + strconv.FormatBool(p.DryRun),
	}

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, env...)
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context surfaces as a kill error from Wait; report the cause.
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
