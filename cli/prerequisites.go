// Package cli locates the sidecar binary and checks the host tools the shell
// relies on.
package cli

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	pexec "github.com/hasbase/hasbase-core/exec"
)

// versionTimeout bounds each --version probe.
const versionTimeout = 3 * time.Second

// Prerequisite represents an executable the shell needs
type Prerequisite struct {
	Name        string // Command name (e.g., "main", "pgrep")
	Required    bool   // Whether the shell can run without it
	Description string // Human-readable description
	// VersionFlag is passed to the tool to print its version. Empty skips the
	// probe, which matters for the sidecar: running it starts the worker.
	VersionFlag string
	// Resolve finds the executable; nil means a $PATH lookup.
	Resolve func(name string) (string, error)
}

// DefaultPrerequisites returns the executables hasbase needs: the sidecar
// itself and the host tool used to find orphaned sidecars.
func DefaultPrerequisites(sidecarBinary string) []Prerequisite {
	prereqs := []Prerequisite{
		{
			Name:        sidecarBinary,
			Required:    true,
			Description: "sidecar worker",
			Resolve:     ResolveSidecar,
		},
	}

	if runtime.GOOS == "windows" {
		prereqs = append(prereqs, Prerequisite{
			Name:        "tasklist",
			Required:    false, // Only needed for cleanup
			Description: "process listing (optional, for cleanup)",
		})
	} else {
		prereqs = append(prereqs, Prerequisite{
			Name:        "pgrep",
			Required:    false, // Only needed for cleanup
			Description: "process lookup (optional, for cleanup)",
			VersionFlag: "-V",
		})
	}
	return prereqs
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a prerequisite can be found, probing its version with
// executor when it has a VersionFlag.
func Check(ctx context.Context, executor pexec.CommandExecutor, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	resolve := prereq.Resolve
	if resolve == nil {
		resolve = exec.LookPath
	}

	path, err := resolve(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found: %w", prereq.Name, err)
		return result
	}

	result.Found = true
	result.Path = path

	if prereq.VersionFlag != "" && executor != nil {
		result.Version = getVersion(ctx, executor, path, prereq.VersionFlag)
	}
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, executor pexec.CommandExecutor, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, executor, prereq)
	}
	return results
}

// ValidateRequired returns an error describing every required prerequisite
// that is missing from results, or nil.
func ValidateRequired(results []CheckResult) error {
	var missing []string

	for _, r := range results {
		if !r.Prerequisite.Required || r.Found {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s): %v",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Error))
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required executables:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion returns the first line of the tool's version output
func getVersion(ctx context.Context, executor pexec.CommandExecutor, path, flag string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := executor.Output(ctx, path, flag)
	if err != nil {
		return ""
	}

	line, _, _ := strings.Cut(string(output), "\n")
	version := strings.TrimSpace(line)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		switch {
		case r.Found && r.Version != "":
			sb.WriteString(fmt.Sprintf(" (%s)", r.Version))
		case r.Found:
			sb.WriteString(fmt.Sprintf(" (%s)", r.Path))
		case r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		default:
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
