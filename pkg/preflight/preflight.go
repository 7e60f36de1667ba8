// Package preflight provides functions for validation and checks that run before
// a backup begins. The checks are stateless and never change the filesystem.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// Validator runs the checks selected by a Plan.
type Validator struct {
	// lookPath allows mocking exec.LookPath for testing.
	lookPath func(file string) (string, error)
}

// NewValidator returns a Validator that resolves binaries on PATH.
func NewValidator() *Validator {
	return &Validator{lookPath: exec.LookPath}
}

// Run checks source, destination and the rsync binary. Remote destinations
// ("host:path") skip the target checks.
func (v *Validator) Run(ctx context.Context, source, destination, binary string, p *Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.SourceAccessible {
		if err := CheckBackupSourceAccessible(source); err != nil {
			return err
		}
	}

	if p.BinaryAvailable {
		resolved, err := v.checkBinary(binary)
		if err != nil {
			return err
		}
		plog.Debug("Using rsync", "path", resolved)
	}

	if util.IsRemotePath(destination) {
		plog.Debug("Remote destination, skipping target checks", "destination", destination)
		return nil
	}

	if p.TargetAccessible {
		if err := CheckBackupTargetAccessible(destination); err != nil {
			return err
		}
	}

	if p.FreeSpace {
		if ancestor, err := deepestExistingAncestor(destination); err == nil {
			if free, err := freeSpace(ancestor); err == nil {
				plog.Debug("Free space on target", "path", ancestor, "free", humanize.IBytes(free))
			} else {
				plog.Debug("Could not determine free space", "path", ancestor, "error", err)
			}
		}
	}
	return nil
}

// CheckBackupSourceAccessible validates that the source path exists and is a directory.
func CheckBackupSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckBackupTargetAccessible performs pre-flight checks to ensure the backup target is usable.
// It provides more user-friendly errors than letting rsync fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the target path exists, confirms it is a directory.
//  3. If the target path does not exist, confirms its deepest existing ancestor is
//     writable and that its immediate parent exists.
//  4. On Unix, if the path sits under a removable-media mount root (/mnt, /media, ...)
//     it verifies the volume is actually mounted to prevent writing to a "ghost"
//     directory on the parent filesystem.
func CheckBackupTargetAccessible(targetPath string) error {
	if err := checkVolumeExists(targetPath); err != nil {
		return err
	}

	info, err := os.Stat(targetPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("target path exists but is not a directory: %s", targetPath)
		}
		return validateMountPoint(targetPath)
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("cannot access target path: %w", err)
	}

	// Target doesn't exist. If /mnt/backup/my-backup doesn't exist, is /mnt/backup mounted?
	ancestor, err := deepestExistingAncestor(targetPath)
	if err != nil {
		return err
	}
	if err := checkWritableDir(ancestor); err != nil {
		return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
	}
	if err := validateMountPoint(ancestor); err != nil {
		return err
	}

	// rsync creates the final path component only.
	parentDir := filepath.Dir(targetPath)
	if _, err := os.Stat(parentDir); os.IsNotExist(err) {
		return fmt.Errorf("target path and its parent directory do not exist: %s", parentDir)
	} else if err != nil {
		return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
	}
	return nil
}

// deepestExistingAncestor walks up from path to the first directory that exists.
func deepestExistingAncestor(path string) (string, error) {
	ancestor := filepath.Clean(path)
	for {
		if _, err := os.Stat(ancestor); err == nil {
			return ancestor, nil
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		ancestor = parent
	}
}

func (v *Validator) checkBinary(binary string) (string, error) {
	resolved, err := v.lookPath(binary)
	if err != nil {
		return "", fmt.Errorf("rsync binary %q not found. Install rsync or set rsync.binary in the config: %w", binary, err)
	}
	return resolved, nil
}
