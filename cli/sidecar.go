package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hasbase/hasbase-core/config"
)

// ErrSidecarNotFound is returned when no candidate location holds the binary.
var ErrSidecarNotFound = errors.New("sidecar binary not found")

// TargetTriple returns the platform suffix sidecar binaries are packaged
// with, e.g. x86_64-unknown-linux-gnu. Unknown platforms yield goarch-goos.
func TargetTriple() string {
	return targetTriple(runtime.GOOS, runtime.GOARCH)
}

func targetTriple(goos, goarch string) string {
	arch := map[string]string{
		"amd64":   "x86_64",
		"arm64":   "aarch64",
		"386":     "i686",
		"arm":     "armv7",
		"riscv64": "riscv64gc",
	}[goarch]
	vendorOS := map[string]string{
		"linux":   "unknown-linux-gnu",
		"darwin":  "apple-darwin",
		"windows": "pc-windows-msvc",
		"freebsd": "unknown-freebsd",
	}[goos]

	if arch == "" || vendorOS == "" {
		return goarch + "-" + goos
	}
	if goos == "linux" && goarch == "arm" {
		return "armv7-unknown-linux-gnueabihf"
	}
	return arch + "-" + vendorOS
}

// ResolveSidecar finds the sidecar executable. A name containing a path
// separator is used as given. A bare name is looked up next to the running
// executable, first as name and then as name-<target triple>, and finally on
// $PATH. The running executable itself never counts as a match.
func ResolveSidecar(name string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		self = ""
	}
	return resolveSidecar(name, self, runtime.GOOS, runtime.GOARCH)
}

func resolveSidecar(name, self, goos, goarch string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrSidecarNotFound)
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		path, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if !isExecutableFile(path, goos) {
			return "", fmt.Errorf("%w: %s", ErrSidecarNotFound, path)
		}
		return path, nil
	}

	var searched []string
	if self != "" {
		dir := filepath.Dir(self)
		for _, candidate := range []string{
			filepath.Join(dir, withExeSuffix(name, goos)),
			filepath.Join(dir, withExeSuffix(name+"-"+targetTriple(goos, goarch), goos)),
		} {
			searched = append(searched, candidate)
			if config.SamePath(candidate, self) {
				continue
			}
			if isExecutableFile(candidate, goos) {
				return candidate, nil
			}
		}
	}

	if path, err := exec.LookPath(name); err == nil && !config.SamePath(path, self) {
		return path, nil
	}
	searched = append(searched, "$PATH")

	return "", fmt.Errorf("%w: %s (searched %s)", ErrSidecarNotFound, name, strings.Join(searched, ", "))
}

func withExeSuffix(name, goos string) string {
	if goos == "windows" && !strings.EqualFold(filepath.Ext(name), ".exe") {
		return name + ".exe"
	}
	return name
}

func isExecutableFile(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
