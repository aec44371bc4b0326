// Package paths provides centralized path resolution for hasbase's on-disk layout.
//
// hasbase keeps everything the shell and its sidecar need under one per-user root.
// The XDG Base Directory Specification is honored when the user opts into it:
//
//   - Config (XDG_CONFIG_HOME): config.yaml
//   - Data (XDG_DATA_HOME): vector_db/, uploads/, *DB.json seed files
//   - State (XDG_STATE_HOME): logs/, the control socket
//
// Resolution order:
//  1. If HASBASE_HOME is set → everything lives under it
//  2. If ~/.hasbase/ exists → use the flat layout (all paths under ~/.hasbase/)
//  3. If XDG env vars are set → use XDG layout with proper separation
//  4. Fresh install, no XDG vars → default to ~/.hasbase/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv overrides the application root when set.
const HomeEnv = "HASBASE_HOME"

const appDirName = ".hasbase"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	legacy    bool
}

func flat(dir string) *resolvedPaths {
	return &resolvedPaths{
		configDir: dir,
		dataDir:   dir,
		stateDir:  dir,
		legacy:    true,
	}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if override := os.Getenv(HomeEnv); override != "" {
		resolved = flat(override)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, appDirName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flat(flatDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, "hasbase"),
			dataDir:   filepath.Join(xdgData, "hasbase"),
			stateDir:  filepath.Join(xdgState, "hasbase"),
			legacy:    false,
		}
		return resolved, nil
	}

	resolved = flat(flatDir)
	return resolved, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the root the bootstrap layout is created under.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ControlSocketPath returns the unix socket the running shell listens on.
func ControlSocketPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hasbase.sock"), nil
}

// IsLegacyLayout returns true if using a flat layout (~/.hasbase/ or HASBASE_HOME).
func IsLegacyLayout() bool {
	r, err := resolve()
	if err != nil {
		return true // assume flat on error
	}
	return r.legacy
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
