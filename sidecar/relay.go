package sidecar

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/process"
)

// MaxLineBytes caps one relayed line. Longer output without a newline is
// delivered in chunks of this size.
const MaxLineBytes = 1 << 20

// Relay forwards a worker's stdout and stderr to a Sink, one event per line.
// It stops on its own when both streams close and then reaps the process;
// there is no way to cancel it other than the streams closing.
type Relay struct {
	handle  *process.Handle
	sink    events.Sink
	log     *slog.Logger
	maxLine int

	// transcript receives every line tagged with its stream; nil disables it
	transcript   io.WriteCloser
	transcriptMu sync.Mutex

	streams conc.WaitGroup
	done    chan struct{}
}

// StartRelay starts draining h's output streams into sink. A non-nil
// transcript gets a copy of every line and is closed after the process has
// been reaped.
func StartRelay(h *process.Handle, sink events.Sink, transcript io.WriteCloser, log *slog.Logger) *Relay {
	return startRelay(h, sink, transcript, log, MaxLineBytes)
}

func startRelay(h *process.Handle, sink events.Sink, transcript io.WriteCloser, log *slog.Logger, maxLine int) *Relay {
	r := &Relay{
		handle:     h,
		sink:       sink,
		log:        log.With("component", "relay"),
		maxLine:    maxLine,
		transcript: transcript,
		done:       make(chan struct{}),
	}

	r.streams.Go(func() { r.pump(events.Stdout, h.Stdout()) })
	r.streams.Go(func() { r.pump(events.Stderr, h.Stderr()) })

	go func() {
		defer close(r.done)
		if recovered := r.streams.WaitAndRecover(); recovered != nil {
			r.log.Error("relay goroutine panicked", "panic", recovered.Value)
		}
		// Both pipes are drained, so reaping cannot lose output
		if err := h.Reap(); err != nil {
			r.log.Info("sidecar exited", "pid", h.PID, "error", err)
		} else {
			r.log.Info("sidecar exited", "pid", h.PID)
		}
		if r.transcript != nil {
			if err := r.transcript.Close(); err != nil {
				r.log.Warn("failed to close sidecar transcript", "error", err)
			}
		}
	}()

	return r
}

// Done is closed once both streams closed and the process was reaped.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until Done is closed.
func (r *Relay) Wait() {
	<-r.done
}

// pump reads one stream line by line until EOF. Emit failures are logged and
// skipped so one bad delivery does not stall the lines behind it.
func (r *Relay) pump(kind events.StreamKind, rd io.Reader) {
	if rd == nil {
		return
	}
	log := r.log.With("stream", kind.String())
	log.Debug("output reader started")

	reader := bufio.NewReader(rd)
	var pending []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		pending = append(pending, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			// No newline yet; hand over what cannot belong to a capped line
			for len(pending) > r.maxLine {
				r.forward(log, events.OutputLine{Stream: kind, Text: string(pending[:r.maxLine])})
				pending = pending[:copy(pending, pending[r.maxLine:])]
			}
			continue
		}

		if len(pending) > 0 {
			r.emitLine(log, kind, strings.TrimRight(string(pending), "\r\n"))
			pending = pending[:0]
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				log.Debug("output stream closed")
			} else {
				log.Warn("error reading output stream", "error", err)
			}
			return
		}
	}
}

// emitLine forwards text, split into pieces of at most maxLine bytes.
func (r *Relay) emitLine(log *slog.Logger, kind events.StreamKind, text string) {
	for len(text) > r.maxLine {
		r.forward(log, events.OutputLine{Stream: kind, Text: text[:r.maxLine]})
		text = text[r.maxLine:]
	}
	r.forward(log, events.OutputLine{Stream: kind, Text: text})
}

func (r *Relay) forward(log *slog.Logger, line events.OutputLine) {
	if line.Stream == events.Stderr {
		log.Warn("sidecar stderr", "line", line.Text)
	} else {
		log.Debug("sidecar stdout", "line", line.Text)
	}

	r.record(log, line)

	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(line.Channel(), line.Text); err != nil {
		log.Error("failed to emit sidecar output", "channel", line.Channel(), "error", err)
	}
}

// record appends line to the transcript. Both stream goroutines share it.
func (r *Relay) record(log *slog.Logger, line events.OutputLine) {
	if r.transcript == nil {
		return
	}
	r.transcriptMu.Lock()
	defer r.transcriptMu.Unlock()
	if _, err := io.WriteString(r.transcript, line.Tagged()+"\n"); err != nil {
		log.Warn("failed to write sidecar transcript", "error", err)
	}
}
