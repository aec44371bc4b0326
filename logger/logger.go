package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hasbase/hasbase-core/paths"
)

const (
	shellLogName = "hasbase.log"

	// sidecarLogPattern names the per-run transcript files written next to
	// the shell log.
	sidecarLogPattern = "sidecar-%s.log"

	logFileFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
)

// output is an open log file and the slog logger writing to it.
type output struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

var (
	mu       sync.Mutex
	levelVar = new(slog.LevelVar)

	// active is nil before initialization and after Close.
	active *output
	// initialized stays true after Close so a closed logger is not reopened
	// behind the caller's back.
	initialized bool
)

// DefaultLogPath returns the shell log file path
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, shellLogName), nil
}

// SidecarLogPath returns the transcript path for one sidecar run
func SidecarLogPath(runID string) (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf(sidecarLogPattern, runID)), nil
}

// OpenSidecarLog opens (creating or appending to) the transcript file for
// runID. The caller owns the returned file.
func OpenSidecarLog(runID string) (*os.File, error) {
	path, err := SidecarLogPath(runID)
	if err != nil {
		return nil, err
	}
	return openAppend(path)
}

func openAppend(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, logFileFlags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

func openOutput(path string) (*output, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &output{
		path:   path,
		file:   f,
		logger: slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelVar})),
	}, nil
}

// install makes out the active output. Caller must hold mu.
func install(out *output) {
	active = out
	initialized = true
	out.logger.Info("logger initialized", "path", out.path)
}

// SetDebug enables or disables debug level logging
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// Init directs logging to path. Only the first successful call has an
// effect; without it the default path is opened on first use.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	install(out)
	return nil
}

// current returns the logger to hand out, opening the default log file if
// nothing was initialized yet. Caller must hold mu.
func current() *slog.Logger {
	if !initialized {
		path, err := DefaultLogPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to get default log path: %v\n", err)
		} else if out, err := openOutput(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			install(out)
		}
	}
	if active == nil {
		return slog.Default()
	}
	return active.logger
}

func with(key, value string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current().With(key, value)
}

// Get returns the root logger instance.
// Use this when you don't have a run ID.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current()
}

// WithRun returns a logger with the sidecar run ID attached. Every spawn
// gets a fresh run ID, so one sidecar lifetime can be grepped out of the
// shell log and matched to its sidecar-<runID>.log transcript.
//
//	log := logger.WithRun(runID)
//	log.Info("sidecar started", "pid", pid)
//	// level=INFO msg="sidecar started" runID=4f0c... pid=4242
func WithRun(runID string) *slog.Logger {
	return with("runID", runID)
}

// WithComponent returns a logger with the component name attached.
func WithComponent(component string) *slog.Logger {
	return with("component", component)
}

// Close closes the log file. Loggers handed out earlier keep working but
// write nowhere useful; new ones fall back to slog.Default.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if active != nil {
		active.file.Close()
		active = nil
	}
}

// Reset closes the log file and forgets all state so Init can run again.
// Tests use it between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	if active != nil {
		active.file.Close()
		active = nil
	}
	initialized = false
	levelVar = new(slog.LevelVar)
}

// ClearLogs removes the shell log and every sidecar transcript from the logs
// directory and returns how many files were removed.
func ClearLogs() (int, error) {
	shellLog, err := DefaultLogPath()
	if err != nil {
		return 0, fmt.Errorf("failed to get default log path: %w", err)
	}

	transcripts, err := filepath.Glob(filepath.Join(filepath.Dir(shellLog), fmt.Sprintf(sidecarLogPattern, "*")))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, path := range append([]string{shellLog}, transcripts...) {
		switch err := os.Remove(path); {
		case err == nil:
			count++
		case os.IsNotExist(err):
		default:
			return count, err
		}
	}
	return count, nil
}

// Path returns the file the logger is writing to, or "" when none is open.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		return ""
	}
	return active.path
}
