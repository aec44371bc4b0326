package sidecar

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/process"
)

// recordingSink captures emitted events. failFirst makes that many initial
// Emit calls fail after being recorded as attempts.
type recordingSink struct {
	mu        sync.Mutex
	events    []events.Event
	attempts  int
	failFirst int
}

func (s *recordingSink) Emit(channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFirst {
		return errors.New("frontend unavailable")
	}
	s.events = append(s.events, events.Event{Channel: channel, Payload: payload, Timestamp: time.Now()})
	return nil
}

func (s *recordingSink) payloads(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Channel == channel {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func launchMock(t *testing.T) (*process.Handle, *process.MockWorker) {
	t.Helper()
	launcher := process.NewMockLauncher()
	h, err := launcher.Launch(t.Context(), process.Spec{Binary: "main"})
	require.NoError(t, err)
	w := launcher.LastWorker()
	t.Cleanup(func() { w.Exit(nil) })
	return h, w
}

func waitRelay(t *testing.T, r *Relay) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish")
	}
}

func TestRelay_PreservesPerStreamOrder(t *testing.T) {
	h, w := launchMock(t)
	sink := &recordingSink{}
	relay := StartRelay(h, sink, nil, logger.Get())

	for _, line := range []string{"ready", "listening on 3001", "loaded 3 documents"} {
		require.NoError(t, w.Stdout(line))
	}
	for _, line := range []string{"deprecation warning", "slow query"} {
		require.NoError(t, w.Stderr(line))
	}
	w.Exit(nil)
	waitRelay(t, relay)

	assert.Equal(t, []string{"ready", "listening on 3001", "loaded 3 documents"}, sink.payloads(events.ChannelStdout))
	assert.Equal(t, []string{"deprecation warning", "slow query"}, sink.payloads(events.ChannelStderr))
}

func TestRelay_InterleavedStreamsKeepTheirTags(t *testing.T) {
	h, w := launchMock(t)
	sink := &recordingSink{}
	relay := StartRelay(h, sink, nil, logger.Get())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = w.Stdout("out")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = w.Stderr("err")
		}
	}()
	wg.Wait()
	w.Exit(nil)
	waitRelay(t, relay)

	out := sink.payloads(events.ChannelStdout)
	errs := sink.payloads(events.ChannelStderr)
	require.Len(t, out, 50)
	require.Len(t, errs, 50)
	for _, p := range out {
		assert.Equal(t, "out", p)
	}
	for _, p := range errs {
		assert.Equal(t, "err", p)
	}
}

func TestRelay_SinkFailureDoesNotStopLaterLines(t *testing.T) {
	h, w := launchMock(t)
	sink := &recordingSink{failFirst: 1}
	relay := StartRelay(h, sink, nil, logger.Get())

	require.NoError(t, w.Stdout("dropped"))
	require.NoError(t, w.Stdout("second"))
	require.NoError(t, w.Stdout("third"))
	w.Exit(nil)
	waitRelay(t, relay)

	assert.Equal(t, []string{"second", "third"}, sink.payloads(events.ChannelStdout))
}

func TestRelay_ReapsAfterStreamsClose(t *testing.T) {
	h, w := launchMock(t)
	relay := StartRelay(h, &recordingSink{}, nil, logger.Get())

	assert.False(t, h.Exited())

	crash := errors.New("exit status 1")
	w.Exit(crash)
	waitRelay(t, relay)

	assert.True(t, h.Exited())
	assert.ErrorIs(t, h.ExitErr(), crash)
}

func TestRelay_TrimsLineEndingsAndFlushesPartialLine(t *testing.T) {
	stdout := strings.NewReader("first\r\nsecond\n\nlast-without-newline")
	stderr := strings.NewReader("")
	h := process.NewHandle(1, nil, stdout, stderr, nil, nil)
	sink := &recordingSink{}

	relay := StartRelay(h, sink, nil, logger.Get())
	waitRelay(t, relay)

	assert.Equal(t, []string{"first", "second", "", "last-without-newline"}, sink.payloads(events.ChannelStdout))
	assert.Empty(t, sink.payloads(events.ChannelStderr))
	assert.True(t, h.Exited())
}

func TestRelay_NilSink(t *testing.T) {
	h, w := launchMock(t)
	relay := StartRelay(h, nil, nil, logger.Get())

	require.NoError(t, w.Stdout("nobody listening"))
	w.Exit(nil)
	waitRelay(t, relay)
}

func TestRelay_DeliversThroughBus(t *testing.T) {
	h, w := launchMock(t)
	bus := events.NewBus()

	var (
		mu  sync.Mutex
		got []string
	)
	bus.SubscribeAll(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Stream().String()+":"+e.Payload)
	})

	relay := StartRelay(h, bus, nil, logger.Get())
	require.NoError(t, w.Stdout("hello"))
	require.NoError(t, w.Stderr("oops"))
	w.Exit(nil)
	waitRelay(t, relay)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"stdout:hello", "stderr:oops"}, got)
}

// bufferTranscript is an in-memory transcript that remembers being closed.
type bufferTranscript struct {
	mu     sync.Mutex
	buf    strings.Builder
	closed bool
}

func (b *bufferTranscript) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("write after close")
	}
	return b.buf.Write(p)
}

func (b *bufferTranscript) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *bufferTranscript) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.closed
}

func TestRelay_SplitsOverlongLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"exactly the cap", "abcd\n", []string{"abcd"}},
		{"cap with crlf", "abcd\r\n", []string{"abcd"}},
		{"over the cap", "abcdefghij\n", []string{"abcd", "efgh", "ij"}},
		{"twice the cap", "abcdefgh\nxy\n", []string{"abcd", "efgh", "xy"}},
		{"no newline at eof", "abcdef", []string{"abcd", "ef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := process.NewHandle(1, nil, strings.NewReader(tt.input), strings.NewReader(""), nil, nil)
			sink := &recordingSink{}

			relay := startRelay(h, sink, nil, logger.Get(), 4)
			waitRelay(t, relay)

			assert.Equal(t, tt.want, sink.payloads(events.ChannelStdout))
		})
	}
}

func TestRelay_CapsUnterminatedOutput(t *testing.T) {
	huge := strings.Repeat("x", 2*MaxLineBytes+10)
	h := process.NewHandle(1, nil, strings.NewReader(huge+"\nafter\n"), strings.NewReader(""), nil, nil)
	sink := &recordingSink{}

	relay := StartRelay(h, sink, nil, logger.Get())
	waitRelay(t, relay)

	got := sink.payloads(events.ChannelStdout)
	require.Len(t, got, 4)
	assert.Len(t, got[0], MaxLineBytes)
	assert.Len(t, got[1], MaxLineBytes)
	assert.Equal(t, strings.Repeat("x", 10), got[2])
	assert.Equal(t, "after", got[3])
}

func TestRelay_WritesTranscript(t *testing.T) {
	h, w := launchMock(t)
	transcript := &bufferTranscript{}

	relay := StartRelay(h, &recordingSink{}, transcript, logger.Get())
	require.NoError(t, w.Stdout("Server running on port 3001"))
	require.NoError(t, w.Stderr("listen EADDRINUSE"))
	require.NoError(t, w.Stdout("bye"))
	w.Exit(nil)
	waitRelay(t, relay)

	text, closed := transcript.snapshot()
	assert.True(t, closed, "transcript is closed after the reap")

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	assert.ElementsMatch(t, []string{
		"[stdout] Server running on port 3001",
		"[stderr] listen EADDRINUSE",
		"[stdout] bye",
	}, lines)
	assert.Less(t, strings.Index(text, "port 3001"), strings.Index(text, "bye"))
}
