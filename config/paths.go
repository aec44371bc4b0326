package config

import (
	"os"
	"path/filepath"
	"strings"
)

// SamePath returns true if a and b refer to the same filesystem entry.
// Symlinks and case-insensitive filesystems are handled by comparing
// device+inode via os.SameFile. Paths that cannot be stat'd only match on
// exact string equality.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// ExpandHome replaces a leading ~ with the user's home directory and cleans
// the result. Other paths are returned cleaned but otherwise unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
