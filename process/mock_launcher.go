package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrMockKilled is the exit error of a MockWorker stopped through Terminate.
var ErrMockKilled = errors.New("signal: killed")

// MockLauncher is a Launcher for tests. Each Launch creates a MockWorker
// whose streams are in-memory pipes, so tests can play the sidecar's side of
// the conversation.
type MockLauncher struct {
	mu          sync.Mutex
	launchErr   error
	launchDelay time.Duration
	exitOnInput string
	workers     []*MockWorker
	nextPID     int
}

// NewMockLauncher creates a MockLauncher whose workers get PIDs from 1000 up.
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{nextPID: 1000}
}

// SetLaunchError makes subsequent launches fail with err (nil to clear).
func (m *MockLauncher) SetLaunchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchErr = err
}

// SetLaunchDelay makes each launch block for d, widening race windows in tests.
func (m *MockLauncher) SetLaunchDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchDelay = d
}

// SetExitOnInput makes workers exit cleanly when they read this line on stdin.
func (m *MockLauncher) SetExitOnInput(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitOnInput = line
}

// Launch creates a new MockWorker and returns its Handle.
func (m *MockLauncher) Launch(ctx context.Context, spec Spec) (*Handle, error) {
	m.mu.Lock()
	launchErr := m.launchErr
	delay := m.launchDelay
	exitOn := m.exitOnInput
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if launchErr != nil {
		return nil, launchErr
	}

	m.mu.Lock()
	m.nextPID++
	w := newMockWorker(spec, m.nextPID, exitOn)
	m.workers = append(m.workers, w)
	m.mu.Unlock()

	return NewHandle(w.PID, w.stdinW, w.stdoutR, w.stderrR, w.kill, w.wait), nil
}

// Workers returns every worker launched so far, oldest first.
func (m *MockLauncher) Workers() []*MockWorker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockWorker, len(m.workers))
	copy(out, m.workers)
	return out
}

// LastWorker returns the most recently launched worker, or nil.
func (m *MockLauncher) LastWorker() *MockWorker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.workers) == 0 {
		return nil
	}
	return m.workers[len(m.workers)-1]
}

// MockWorker is the child side of a mocked process.
type MockWorker struct {
	Spec Spec
	PID  int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	input chan string

	mu       sync.Mutex
	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
	killed   bool
}

func newMockWorker(spec Spec, pid int, exitOn string) *MockWorker {
	w := &MockWorker{
		Spec:   spec,
		PID:    pid,
		input:  make(chan string, 64),
		exited: make(chan struct{}),
	}
	w.stdinR, w.stdinW = io.Pipe()
	w.stdoutR, w.stdoutW = io.Pipe()
	w.stderrR, w.stderrW = io.Pipe()

	go func() {
		scanner := bufio.NewScanner(w.stdinR)
		for scanner.Scan() {
			line := scanner.Text()
			select {
			case w.input <- line:
			default:
			}
			if exitOn != "" && line == exitOn {
				w.Exit(nil)
			}
		}
	}()

	return w
}

// Stdout writes one line to the worker's stdout. It blocks until the line is read.
func (w *MockWorker) Stdout(line string) error {
	_, err := io.WriteString(w.stdoutW, line+"\n")
	return err
}

// Stderr writes one line to the worker's stderr. It blocks until the line is read.
func (w *MockWorker) Stderr(line string) error {
	_, err := io.WriteString(w.stderrW, line+"\n")
	return err
}

// Input delivers each line the worker reads from stdin.
func (w *MockWorker) Input() <-chan string {
	return w.input
}

// BreakInput makes every further stdin write fail with err.
func (w *MockWorker) BreakInput(err error) {
	w.stdinR.CloseWithError(err)
}

// Exit closes the worker's output streams and lets Wait return err.
func (w *MockWorker) Exit(err error) {
	w.exitOnce.Do(func() {
		w.mu.Lock()
		w.exitErr = err
		w.mu.Unlock()
		w.stdoutW.Close()
		w.stderrW.Close()
		w.stdinR.Close()
		close(w.exited)
	})
}

// Exited is closed once the worker has exited.
func (w *MockWorker) Exited() <-chan struct{} {
	return w.exited
}

// Killed reports whether the worker was stopped through Terminate.
func (w *MockWorker) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

func (w *MockWorker) kill() error {
	w.mu.Lock()
	w.killed = true
	w.mu.Unlock()
	w.Exit(ErrMockKilled)
	return nil
}

func (w *MockWorker) wait() error {
	<-w.exited
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitErr
}

var _ Launcher = (*MockLauncher)(nil)
