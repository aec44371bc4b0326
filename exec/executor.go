// Package exec provides an abstraction over short-lived command execution
// for testability. The shell uses it for the host tools it shells out to
// (pgrep, ps, kill, taskkill) so tests can inject recorded responses.
//
// The sidecar itself is not launched through here: it needs live pipes for
// its whole lifetime, see process.Launcher.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// CommandExecutor abstracts command execution for testability.
// Production code uses RealExecutor, while tests use MockExecutor.
type CommandExecutor interface {
	// Run executes a command and returns an error carrying stderr on failure.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes a command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Run executes a command, folding stderr into the returned error.
func (e *RealExecutor) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderrBuf.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Output executes a command and returns stdout.
func (e *RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Err    error
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(name string, args []string) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration; unmatched commands
// succeed with empty output.
type MockExecutor struct {
	mu    sync.RWMutex
	rules []MockRule
	calls []MockCall
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}, response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && len(a) >= len(prefixArgs) && slices.Equal(a[:len(prefixArgs)], prefixArgs)
	}, response)
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

func (e *MockExecutor) handle(name string, args []string) MockResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, MockCall{Name: name, Args: args})
	for _, rule := range e.rules {
		if rule.Match(name, args) {
			return rule.Response
		}
	}
	return MockResponse{}
}

// Run executes a mocked command.
func (e *MockExecutor) Run(_ context.Context, name string, args ...string) error {
	return e.handle(name, args).Err
}

// Output executes a mocked command.
func (e *MockExecutor) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	resp := e.handle(name, args)
	return resp.Stdout, resp.Err
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
