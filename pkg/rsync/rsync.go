// Package rsync runs a planned rsync argument vector and interprets its exit status.
package rsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// DefaultBinary is the rsync executable looked up on PATH.
const DefaultBinary = "rsync"

// waitDelay bounds how long a cancelled rsync may take to exit after the signal.
const waitDelay = 10 * time.Second

var (
	// ErrPartialTransfer marks exit codes 23 and 24: rsync finished but some files
	// could not be transferred or vanished. The run is still recorded.
	ErrPartialTransfer = hints.New("rsync reported a partial transfer")
	// ErrTransferFailed marks every other non-zero exit code.
	ErrTransferFailed = errors.New("rsync failed")
)

// exitCodeText describes rsync's documented exit codes.
var exitCodeText = map[int]string{
	1:  "syntax or usage error",
	2:  "protocol incompatibility",
	3:  "errors selecting input/output files, dirs",
	4:  "requested action not supported",
	5:  "error starting client-server protocol",
	6:  "daemon unable to append to log-file",
	10: "error in socket I/O",
	11: "error in file I/O",
	12: "error in rsync protocol data stream",
	13: "errors with program diagnostics",
	14: "error in IPC code",
	20: "received SIGUSR1 or SIGINT",
	21: "some error returned by waitpid()",
	22: "error allocating core memory buffers",
	23: "partial transfer due to error",
	24: "partial transfer due to vanished source files",
	25: "the --max-delete limit stopped deletions",
	30: "timeout in data send/receive",
	35: "timeout waiting for daemon connection",
}

// ExitCodeText returns the meaning of an rsync exit code.
func ExitCodeText(code int) string {
	if code == 0 {
		return "success"
	}
	if text, ok := exitCodeText[code]; ok {
		return text
	}
	return "unknown error"
}

// Result is what a run reports back.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Executor starts rsync processes.
type Executor struct {
	binary string
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	// console receives a copy of rsync's output in addition to the run log.
	console io.Writer
}

// NewExecutor returns an Executor for binary (DefaultBinary if empty).
// A nil console discards the live output; the run log always receives it.
func NewExecutor(binary string, console io.Writer, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	if binary == "" {
		binary = DefaultBinary
	}
	if console == nil {
		console = io.Discard
	}
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Executor{binary: binary, commandContext: commandContext, console: console}
}

// Binary returns the executable the Executor runs.
func (e *Executor) Binary() string {
	return e.binary
}

// Run executes rsync with args, appending its output to logFile (if set).
// A nil error means exit code 0. Exit codes 23 and 24 return an error wrapping
// ErrPartialTransfer; other failures wrap ErrTransferFailed. A cancelled ctx
// stops rsync and its children and returns ctx.Err().
func (e *Executor) Run(ctx context.Context, args []string, logFile string) (Result, error) {
	out, closeLog, err := openLog(logFile)
	if err != nil {
		return Result{}, err
	}
	defer closeLog()

	fmt.Fprintf(out, "# %s %s %s\n", time.Now().Format(time.RFC3339), e.binary, strings.Join(args, " "))

	cmd := e.createCommand(ctx, args)
	cmd.Stdout = io.MultiWriter(out, e.console)
	cmd.Stderr = io.MultiWriter(out, e.console)
	cmd.WaitDelay = waitDelay

	plog.Info("Starting rsync", "binary", e.binary, "log", logFile)
	start := time.Now()
	runErr := cmd.Run()
	res := Result{Duration: time.Since(start)}

	if runErr == nil {
		fmt.Fprintf(out, "# finished in %s, exit code 0\n", res.Duration.Truncate(time.Millisecond))
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		fmt.Fprintf(out, "# cancelled after %s\n", res.Duration.Truncate(time.Millisecond))
		return res, ctxErr
	}

	exitErr, ok := errors.AsType[*exec.ExitError](runErr)
	if !ok {
		res.ExitCode = -1
		return res, fmt.Errorf("could not run %s: %w", e.binary, runErr)
	}

	res.ExitCode = exitErr.ExitCode()
	fmt.Fprintf(out, "# finished in %s, exit code %d (%s)\n", res.Duration.Truncate(time.Millisecond), res.ExitCode, ExitCodeText(res.ExitCode))

	switch res.ExitCode {
	case 23, 24:
		return res, fmt.Errorf("%w: exit code %d (%s)", ErrPartialTransfer, res.ExitCode, ExitCodeText(res.ExitCode))
	default:
		return res, fmt.Errorf("%w: exit code %d (%s)", ErrTransferFailed, res.ExitCode, ExitCodeText(res.ExitCode))
	}
}

// openLog opens logFile for appending, or discards output if logFile is empty.
func openLog(logFile string) (io.Writer, func(), error) {
	if logFile == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open run log %s: %w", logFile, err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			plog.Warn("Could not close run log", "path", logFile, "error", err)
		}
	}, nil
}
