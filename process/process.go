// Package process owns spawned child processes: the Handle the supervisor
// keeps for the running sidecar, the Launcher that creates it, and utilities
// for finding sidecars left behind by a crashed shell.
package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hasbase/hasbase-core/exec"
	"github.com/hasbase/hasbase-core/logger"
)

// lookupTimeout bounds each host tool invocation.
const lookupTimeout = 5 * time.Second

// SidecarProcess represents a running sidecar found on the system.
type SidecarProcess struct {
	PID     int    // Process ID
	Command string // Full command line, or image name on Windows
}

// FindSidecarProcesses finds running processes whose executable name matches
// the base name of binary. Useful after a crash, when the shell is gone but
// the sidecar it started never received the shutdown line.
func FindSidecarProcesses(ctx context.Context, executor exec.CommandExecutor, binary string) ([]SidecarProcess, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	name := filepath.Base(binary)
	log := logger.WithComponent("process")

	var processes []SidecarProcess
	switch runtime.GOOS {
	case "windows":
		image := name
		if !strings.HasSuffix(strings.ToLower(image), ".exe") {
			image += ".exe"
		}
		output, err := executor.Output(ctx, "tasklist", "/FI", "IMAGENAME eq "+image, "/FO", "CSV", "/NH")
		if err != nil {
			return nil, err
		}
		processes = parseTasklist(string(output))

	default:
		output, err := executor.Output(ctx, "pgrep", "-x", name)
		if err != nil {
			// pgrep exits 1 when nothing matched
			var exitErr interface{ ExitCode() int }
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		for _, pid := range parsePIDs(string(output)) {
			psOutput, err := executor.Output(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "args=")
			if err != nil {
				// Exited between pgrep and ps
				continue
			}
			processes = append(processes, SidecarProcess{
				PID:     pid,
				Command: strings.TrimSpace(string(psOutput)),
			})
		}
	}

	log.Debug("found sidecar processes", "binary", name, "count", len(processes))
	return processes, nil
}

// parsePIDs extracts the whitespace-separated PIDs pgrep prints.
func parsePIDs(output string) []int {
	var pids []int
	for _, field := range strings.Fields(output) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// parseTasklist parses `tasklist /FO CSV /NH` rows: "image","pid",...
func parseTasklist(output string) []SidecarProcess {
	var processes []SidecarProcess
	for line := range strings.SplitSeq(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(strings.Trim(fields[1], "\""))
		if err != nil {
			continue
		}
		processes = append(processes, SidecarProcess{
			PID:     pid,
			Command: strings.Trim(fields[0], "\""),
		})
	}
	return processes
}

// KillProcess force-kills a process by PID.
func KillProcess(ctx context.Context, executor exec.CommandExecutor, pid int) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if runtime.GOOS == "windows" {
		return executor.Run(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid))
	}
	return executor.Run(ctx, "kill", "-9", strconv.Itoa(pid))
}

// CleanupOrphanedSidecars kills every sidecar process except keepPID (pass 0
// to keep none). Returns the number of processes killed. Individual kill
// failures are logged and skipped.
func CleanupOrphanedSidecars(ctx context.Context, executor exec.CommandExecutor, binary string, keepPID int) (int, error) {
	found, err := FindSidecarProcesses(ctx, executor, binary)
	if err != nil {
		return 0, fmt.Errorf("failed to list sidecar processes: %w", err)
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range found {
		if proc.PID == keepPID {
			continue
		}
		log.Info("killing orphaned sidecar", "pid", proc.PID, "command", proc.Command)
		if err := KillProcess(ctx, executor, proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	return killed, nil
}
