package sidecar

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/process"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *process.MockLauncher, *recordingSink) {
	t.Helper()
	if cfg.Spec.Binary == "" {
		cfg.Spec = process.Spec{Binary: "main"}
	}
	launcher := process.NewMockLauncher()
	sink := &recordingSink{}
	sup := NewSupervisor(cfg, NewRegistry(), launcher, sink)

	t.Cleanup(func() {
		for _, w := range launcher.Workers() {
			w.Exit(nil)
		}
		sup.WaitRelays()
	})
	return sup, launcher, sink
}

func expectInput(t *testing.T, w *process.MockWorker, want string) {
	t.Helper()
	select {
	case got := <-w.Input():
		assert.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("worker %d never received %q", w.PID, want)
	}
}

func expectNoInput(t *testing.T, w *process.MockWorker) {
	t.Helper()
	select {
	case got := <-w.Input():
		t.Fatalf("worker %d unexpectedly received %q", w.PID, got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSupervisor_SpawnStartsWorker(t *testing.T) {
	spec := process.Spec{Binary: "/opt/hasbase/main", Args: []string{"--port", "3001"}, Dir: "/tmp"}
	sup, launcher, _ := newTestSupervisor(t, Config{Spec: spec})

	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Started, res)

	w := launcher.LastWorker()
	require.NotNil(t, w)
	assert.Equal(t, spec, w.Spec)

	st := sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, w.PID, st.PID)
	assert.NotEmpty(t, st.RunID)
	assert.False(t, st.Exited)
}

func TestSupervisor_SpawnIsIdempotent(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Started, res)
	first := sup.Status()

	res, err = sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, res)

	assert.Len(t, launcher.Workers(), 1)
	assert.Equal(t, first, sup.Status())
}

func TestSupervisor_ShutdownSendsHandshake(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()

	res, err := sup.Shutdown()
	require.NoError(t, err)
	assert.Equal(t, Acknowledged, res)
	expectInput(t, w, ShutdownCommand)

	assert.Equal(t, StateEmpty, sup.Status().State)
	assert.False(t, w.Killed(), "shutdown must not kill the worker")

	_, err = sup.Shutdown()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSupervisor_ShutdownWhenEmpty(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	_, err := sup.Shutdown()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, "no active sidecar process to shutdown", err.Error())
	assert.Empty(t, launcher.Workers())
}

func TestSupervisor_CustomShutdownCommand(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{ShutdownCommand: "quit"})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)

	_, err = sup.Shutdown()
	require.NoError(t, err)
	expectInput(t, launcher.LastWorker(), "quit")
}

func TestSupervisor_WriteFailureRestoresHandle(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	before := sup.Status()

	broken := errors.New("broken pipe")
	launcher.LastWorker().BreakInput(broken)

	_, err = sup.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, broken)

	var wfe *WriteFailedError
	require.ErrorAs(t, err, &wfe)

	after := sup.Status()
	assert.Equal(t, StateRunning, after.State)
	assert.Equal(t, before.PID, after.PID)
	assert.Equal(t, before.RunID, after.RunID)

	// The restored handle is retried, not reported as missing
	_, err = sup.Shutdown()
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.NotErrorIs(t, err, ErrNotRunning)
}

func TestSupervisor_LaunchFailureLeavesRegistryEmpty(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	notFound := errors.New("executable file not found")
	launcher.SetLaunchError(notFound)

	_, err := sup.Spawn(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, notFound)
	assert.Contains(t, err.Error(), "main")
	assert.Equal(t, StateEmpty, sup.Status().State)

	launcher.SetLaunchError(nil)
	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Started, res)
}

func TestSupervisor_CancelledContext(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, Config{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := sup.Spawn(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, StateEmpty, sup.Status().State)
}

func TestSupervisor_RespawnAfterShutdown(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})
	launcher.SetExitOnInput(ShutdownCommand)

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	firstRun := sup.Status().RunID
	first := launcher.LastWorker()

	_, err = sup.Shutdown()
	require.NoError(t, err)

	select {
	case <-first.Exited():
	case <-time.After(waitFor):
		t.Fatal("first worker did not exit after handshake")
	}

	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Started, res)
	assert.Len(t, launcher.Workers(), 2)

	st := sup.Status()
	assert.NotEqual(t, firstRun, st.RunID)
	assert.Equal(t, launcher.LastWorker().PID, st.PID)
}

func TestSupervisor_RelaysWorkerOutput(t *testing.T) {
	sup, launcher, sink := newTestSupervisor(t, Config{})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()

	require.NoError(t, w.Stdout("server ready"))
	require.NoError(t, w.Stderr("warning: cache cold"))

	require.Eventually(t, func() bool { return sink.count() == 2 }, waitFor, tick)
	assert.Equal(t, []string{"server ready"}, sink.payloads(events.ChannelStdout))
	assert.Equal(t, []string{"warning: cache cold"}, sink.payloads(events.ChannelStderr))
}

func TestSupervisor_CrashedWorkerKeepsSlot(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	launcher.LastWorker().Exit(errors.New("exit status 2"))

	require.Eventually(t, func() bool { return sup.Status().Exited }, waitFor, tick)
	assert.Equal(t, StateRunning, sup.Status().State)

	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, res)
}

func TestSupervisor_ConcurrentSpawnAndShutdown(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})
	launcher.SetExitOnInput(ShutdownCommand)
	launcher.SetLaunchDelay(2 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = sup.Spawn(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, _ = sup.Shutdown()
		}()
	}
	wg.Wait()

	// Every worker that left the registry got the handshake and exited; at
	// most the registered one is still alive.
	expectAlive := 0
	if sup.Status().State == StateRunning {
		expectAlive = 1
	}
	require.Eventually(t, func() bool {
		alive := 0
		for _, w := range launcher.Workers() {
			select {
			case <-w.Exited():
			default:
				alive++
			}
		}
		return alive == expectAlive
	}, waitFor, tick)

	for _, w := range launcher.Workers() {
		assert.False(t, w.Killed())
	}
}

func TestSupervisor_ExitWithoutGraceOnlySendsHandshake(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()

	sup.OnApplicationExit()

	expectInput(t, w, ShutdownCommand)
	assert.Equal(t, StateEmpty, sup.Status().State)
	assert.False(t, w.Killed())

	// A second exit finds nothing to do
	sup.OnApplicationExit()
	expectNoInput(t, w)
}

func TestSupervisor_ExitWhenEmpty(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{ExitKillGrace: time.Second})

	sup.OnApplicationExit()
	assert.Empty(t, launcher.Workers())
}

func TestSupervisor_ExitGraceWorkerCooperates(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{ExitKillGrace: waitFor})
	launcher.SetExitOnInput(ShutdownCommand)

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()

	sup.OnApplicationExit()

	assert.False(t, w.Killed())
	select {
	case <-w.Exited():
	default:
		t.Fatal("OnApplicationExit returned before the worker exited")
	}
}

func TestSupervisor_ExitGraceKillsStuckWorker(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{ExitKillGrace: 30 * time.Millisecond})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()

	start := time.Now()
	sup.OnApplicationExit()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, w.Killed())
	expectInput(t, w, ShutdownCommand)
}

func TestSupervisor_ExitGraceKillsOnWriteFailure(t *testing.T) {
	sup, launcher, _ := newTestSupervisor(t, Config{ExitKillGrace: time.Minute})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	w := launcher.LastWorker()
	w.BreakInput(errors.New("broken pipe"))

	done := make(chan struct{})
	go func() {
		sup.OnApplicationExit()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("OnApplicationExit waited out the grace after a failed write")
	}
	assert.True(t, w.Killed())
	assert.Equal(t, StateEmpty, sup.Status().State)
}

func TestSupervisor_Unavailable(t *testing.T) {
	var nilSup *Supervisor

	_, err := nilSup.Spawn(t.Context())
	assert.ErrorIs(t, err, ErrStateUnavailable)

	_, err = nilSup.Shutdown()
	assert.ErrorIs(t, err, ErrStateUnavailable)
	assert.Equal(t, "sidecar process state not found", err.Error())

	assert.Equal(t, Status{}, nilSup.Status())
	nilSup.OnApplicationExit()
	nilSup.WaitRelays()
	assert.Nil(t, nilSup.Registry())

	noRegistry := NewSupervisor(Config{}, nil, process.NewMockLauncher(), nil)
	_, err = noRegistry.Spawn(t.Context())
	assert.ErrorIs(t, err, ErrStateUnavailable)
}

func TestResultStrings(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"started", Started.String(), "started"},
		{"already running", AlreadyRunning.String(), "already running"},
		{"acknowledged", Acknowledged.String(), "acknowledged"},
		{"zero spawn", SpawnResult(0).String(), "unknown"},
		{"empty", StateEmpty.String(), "empty"},
		{"running", StateRunning.String(), "running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSupervisor_TranscriptPerRun(t *testing.T) {
	var (
		mu          sync.Mutex
		transcripts = map[string]*bufferTranscript{}
	)
	sup, launcher, _ := newTestSupervisor(t, Config{
		Transcript: func(runID string) (io.WriteCloser, error) {
			mu.Lock()
			defer mu.Unlock()
			tr := &bufferTranscript{}
			transcripts[runID] = tr
			return tr, nil
		},
	})

	_, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	runID := sup.Status().RunID

	w := launcher.LastWorker()
	require.NoError(t, w.Stdout("ready"))
	w.Exit(nil)
	sup.WaitRelays()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, transcripts, runID)
	text, closed := transcripts[runID].snapshot()
	assert.Equal(t, "[stdout] ready\n", text)
	assert.True(t, closed)
}

func TestSupervisor_TranscriptFailureDoesNotBlockSpawn(t *testing.T) {
	sup, launcher, sink := newTestSupervisor(t, Config{
		Transcript: func(string) (io.WriteCloser, error) {
			return nil, errors.New("read-only file system")
		},
	})

	res, err := sup.Spawn(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Started, res)

	require.NoError(t, launcher.LastWorker().Stdout("still relayed"))
	assert.Eventually(t, func() bool { return sink.count() == 1 }, waitFor, tick)
}
