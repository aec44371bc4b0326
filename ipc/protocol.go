// Package ipc is the control channel of a running shell. The shell listens on
// a unix socket; a second hasbase invocation (or a UI) connects and sends
// newline-delimited JSON requests to start, stop or inspect the sidecar.
package ipc

import "fmt"

// Command names a control request.
type Command string

const (
	CommandStart    Command = "start"
	CommandShutdown Command = "shutdown"
	CommandStatus   Command = "status"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandStart, CommandShutdown, CommandStatus:
		return true
	}
	return false
}

// ParseCommand converts user input to a Command.
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown command %q (want start, shutdown or status)", s)
	}
	return c, nil
}

// Request is one line sent by a client.
type Request struct {
	Command Command `json:"command"`
}

// Status describes the supervised sidecar.
type Status struct {
	State  string `json:"state"` // "running" or "empty"
	PID    int    `json:"pid,omitempty"`
	RunID  string `json:"runId,omitempty"`
	Exited bool   `json:"exited,omitempty"`
}

// Response is one line sent back by the server. Exactly one of Message or
// Error is set; Status is set for status requests.
type Response struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  *Status `json:"status,omitempty"`
}
