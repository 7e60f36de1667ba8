//go:build !windows

package preflight

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// mountRoots are directories whose immediate children are expected to be mount points.
var mountRoots = []string{"/mnt", "/media", "/run/media", "/Volumes"}

// checkVolumeExists is a no-op on Unix; volumes are checked by validateMountPoint.
func checkVolumeExists(string) error { return nil }

// validateMountPoint rejects paths under a mount root whose volume directory
// (e.g. /mnt/usb) sits on the same device as the mount root itself. Such a
// directory is a "ghost": the drive is not mounted and the backup would fill
// the parent filesystem instead.
func validateMountPoint(path string) error {
	for _, root := range mountRoots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		volume := filepath.Join(root, strings.SplitN(rel, string(filepath.Separator), 2)[0])

		var rootStat, volumeStat unix.Stat_t
		if err := unix.Stat(root, &rootStat); err != nil {
			return fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if err := unix.Stat(volume, &volumeStat); err != nil {
			return fmt.Errorf("failed to stat %s: %w", volume, err)
		}
		if rootStat.Dev == volumeStat.Dev {
			return fmt.Errorf("path '%s' is not on a mounted volume (%s is a plain directory on the %s filesystem). "+
				"Ensure your external drive is mounted", path, volume, root)
		}
		return nil
	}
	return nil
}

// checkWritableDir reports whether the current user may create entries in dir.
func checkWritableDir(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}

// freeSpace returns the bytes available to unprivileged users on the filesystem holding path.
func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
