package process

import (
	"errors"
	"io"
	"sync"
)

// ErrInputClosed is returned when writing to a handle whose stdin was closed.
var ErrInputClosed = errors.New("process input closed")

// Handle owns one spawned child: the write end of its stdin, the read ends of
// its stdout and stderr, and the capability to terminate and reap it.
//
// Whoever holds the Handle owns the process. The sidecar registry hands it
// out with Take so only one caller can write the shutdown line at a time.
type Handle struct {
	PID   int
	RunID string // Assigned by the owner before the handle is shared

	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	terminate func() error
	wait      func() error

	mu          sync.Mutex
	inputClosed bool

	reapOnce sync.Once
	done     chan struct{}
	exitErr  error
}

// NewHandle assembles a Handle from a started child. terminate force-stops the
// process and wait blocks until it has exited; both are supplied by the
// Launcher that created it.
func NewHandle(pid int, stdin io.WriteCloser, stdout, stderr io.Reader, terminate, wait func() error) *Handle {
	return &Handle{
		PID:       pid,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		terminate: terminate,
		wait:      wait,
		done:      make(chan struct{}),
	}
}

// Stdout returns the child's standard output stream.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns the child's standard error stream.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// WriteInput writes p to the child's stdin in a single call.
func (h *Handle) WriteInput(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inputClosed || h.stdin == nil {
		return ErrInputClosed
	}
	_, err := h.stdin.Write(p)
	return err
}

// CloseInput closes the child's stdin. Safe to call more than once.
func (h *Handle) CloseInput() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inputClosed || h.stdin == nil {
		return nil
	}
	h.inputClosed = true
	return h.stdin.Close()
}

// Terminate force-stops the child. It is a no-op once the child was reaped.
func (h *Handle) Terminate() error {
	if h.Exited() || h.terminate == nil {
		return nil
	}
	return h.terminate()
}

// Reap waits for the child to exit and records its exit status. Only the
// first call waits; later calls return the recorded result. The output relay
// calls this once both output streams reach EOF.
func (h *Handle) Reap() error {
	h.reapOnce.Do(func() {
		if h.wait != nil {
			h.exitErr = h.wait()
		}
		close(h.done)
	})
	<-h.done
	return h.exitErr
}

// Done is closed after the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the exit error recorded by Reap, or nil while running.
func (h *Handle) ExitErr() error {
	if !h.Exited() {
		return nil
	}
	return h.exitErr
}
