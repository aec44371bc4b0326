// Package events carries sidecar output from the shell core to the UI layer.
//
// The supervisor only knows the Sink interface. The UI, the console printer
// of `hasbase run`, or a test subscribes to a Bus by channel name.
package events

import "time"

// Channel names the UI listens on.
const (
	ChannelStdout = "sidecar-stdout"
	ChannelStderr = "sidecar-stderr"
)

// StreamKind identifies which output stream a line came from.
type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

// String returns "stdout" or "stderr".
func (k StreamKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Channel returns the event channel lines of this stream are emitted on.
func (k StreamKind) Channel() string {
	if k == Stderr {
		return ChannelStderr
	}
	return ChannelStdout
}

// OutputLine is one complete line read from the sidecar.
type OutputLine struct {
	Stream StreamKind
	Text   string
}

// Channel is the event channel the line is emitted on.
func (l OutputLine) Channel() string {
	return l.Stream.Channel()
}

// Tagged renders the line with its stream name, as written to transcripts:
// "[stderr] listen EADDRINUSE".
func (l OutputLine) Tagged() string {
	return "[" + l.Stream.String() + "] " + l.Text
}

// Sink receives sidecar output. Emit must not retain payload beyond the call.
type Sink interface {
	Emit(channel, payload string) error
}

// Event is what Bus subscribers receive.
type Event struct {
	Channel   string
	Payload   string
	Timestamp time.Time
}

// Stream maps the event's channel back to its stream kind.
func (e Event) Stream() StreamKind {
	if e.Channel == ChannelStderr {
		return Stderr
	}
	return Stdout
}
