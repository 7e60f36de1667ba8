package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-rsync/cmd"
	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	switch command {
	case flagparse.None:
		// Help was printed.
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	}

	plog.Debug("Starting "+buildinfo.Name, "version", buildinfo.Version, "command", command, "pid", os.Getpid())

	switch command {
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Backup:
		return cmd.RunBackup(ctx, flagMap)
	case flagparse.Due:
		return cmd.RunDue(ctx, flagMap)
	case flagparse.Schedule:
		return cmd.RunSchedule(ctx, flagMap)
	case flagparse.List:
		return cmd.RunList(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %s", command)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
