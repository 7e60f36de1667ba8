package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// tokenAlphabet is the character set used for plan identifiers: digits followed by ASCII letters.
const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// WithUserWritePermission ensures that any directory/file permission has the owner-write
// bit (0200) set. This prevents the backup user from being locked out on subsequent runs.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, path[1:]), nil
}

// AbsDirWithSlash returns the absolute form of path with exactly one trailing separator.
// rsync treats "src/" (copy contents) differently from "src" (copy the directory itself).
func AbsDirWithSlash(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}
	return strings.TrimRight(abs, string(filepath.Separator)) + string(filepath.Separator), nil
}

// IsRemotePath reports whether an rsync location uses the "host:path" or "rsync://" form.
func IsRemotePath(path string) bool {
	if strings.HasPrefix(path, "rsync://") {
		return true
	}
	// A colon before the first slash means host:path. Windows drive letters ("C:\") are
	// excluded by requiring more than one character before the colon.
	colon := strings.Index(path, ":")
	slash := strings.IndexAny(path, `/\`)
	return colon > 1 && (slash == -1 || colon < slash)
}

// RandomToken returns a random string of length n drawn from [0-9a-zA-Z].
func RandomToken(n int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for range n {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not generate random token: %w", err)
		}
		b.WriteByte(tokenAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// MergeAndDeduplicate combines slices, keeping the first occurrence of each item
// in order. Filter rules are order-sensitive, so the order is stable.
func MergeAndDeduplicate(slices ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, s := range slices {
		for _, item := range s {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			result = append(result, item)
		}
	}
	return result
}
