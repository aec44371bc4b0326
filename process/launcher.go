package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Spec describes the child to launch.
type Spec struct {
	Binary string   // Resolved path or PATH-relative name of the executable
	Args   []string // Arguments; the default sidecar takes none
	Env    []string // KEY=VALUE pairs appended to the parent environment
	Dir    string   // Working directory; empty inherits the parent's
}

// String renders the spec as a command line for logs.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Binary
	}
	return s.Binary + " " + strings.Join(s.Args, " ")
}

// Launcher starts a child process with all three standard streams piped.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Handle, error)
}

// RealLauncher launches children with os/exec.
type RealLauncher struct{}

// NewRealLauncher returns a new RealLauncher.
func NewRealLauncher() *RealLauncher {
	return &RealLauncher{}
}

// Launch starts spec.Binary. ctx only bounds the launch itself: the child is
// deliberately not tied to it, since the sidecar must outlive the command
// that started it.
func (l *RealLauncher) Launch(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Binary, err)
	}

	return NewHandle(cmd.Process.Pid, stdin, stdout, stderr, cmd.Process.Kill, cmd.Wait), nil
}

var _ Launcher = (*RealLauncher)(nil)
