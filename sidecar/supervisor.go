package sidecar

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/process"
)

// ShutdownCommand is the line a worker must treat as "exit now".
const ShutdownCommand = "sidecar shutdown"

// SpawnResult is the outcome of a successful Spawn call.
type SpawnResult int

const (
	Started SpawnResult = iota + 1
	AlreadyRunning
)

func (r SpawnResult) String() string {
	switch r {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already running"
	default:
		return "unknown"
	}
}

// ShutdownResult is the outcome of a successful Shutdown call.
type ShutdownResult int

const (
	Acknowledged ShutdownResult = iota + 1
)

func (r ShutdownResult) String() string {
	if r == Acknowledged {
		return "acknowledged"
	}
	return "unknown"
}

// State is the registry state seen by Status.
type State int

const (
	StateEmpty State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "empty"
}

// Status is a point-in-time view of the supervised sidecar.
type Status struct {
	State  State
	PID    int
	RunID  string
	Exited bool // Reaped while still registered: it died without a handshake
}

// Config holds the supervisor settings.
type Config struct {
	Spec process.Spec

	// ShutdownCommand overrides the handshake text; "" means ShutdownCommand.
	ShutdownCommand string

	// ExitKillGrace, when positive, makes OnApplicationExit wait this long for
	// the worker to exit after the handshake and then kill it. Zero keeps the
	// handshake-only behavior.
	ExitKillGrace time.Duration

	// Transcript, when set, opens the per-run file every output line is
	// copied to. A failure is logged and the run continues without one.
	Transcript func(runID string) (io.WriteCloser, error)
}

// Supervisor spawns and shuts down the sidecar.
type Supervisor struct {
	registry *Registry
	launcher process.Launcher
	sink     events.Sink
	log      *slog.Logger

	spec          process.Spec
	shutdownLine  []byte
	exitKillGrace time.Duration
	transcript    func(runID string) (io.WriteCloser, error)

	// opMu serializes Spawn, Shutdown and OnApplicationExit
	opMu sync.Mutex

	relays sync.WaitGroup
}

// NewSupervisor creates a supervisor that stores handles in registry, starts
// workers with launcher and relays their output to sink.
func NewSupervisor(cfg Config, registry *Registry, launcher process.Launcher, sink events.Sink) *Supervisor {
	cmd := cfg.ShutdownCommand
	if cmd == "" {
		cmd = ShutdownCommand
	}
	return &Supervisor{
		registry:      registry,
		launcher:      launcher,
		sink:          sink,
		log:           logger.WithComponent("supervisor"),
		spec:          cfg.Spec,
		shutdownLine:  []byte(cmd + "\n"),
		exitKillGrace: cfg.ExitKillGrace,
		transcript:    cfg.Transcript,
	}
}

// Registry returns the registry the supervisor stores handles in.
func (s *Supervisor) Registry() *Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Supervisor) available() bool {
	return s != nil && s.registry != nil && s.launcher != nil
}

// Spawn starts the worker unless one is already registered. Launch failures
// are returned as *LaunchError and leave the registry empty; there is no retry.
func (s *Supervisor) Spawn(ctx context.Context) (SpawnResult, error) {
	if !s.available() {
		return 0, ErrStateUnavailable
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.registry.IsOccupied() {
		s.log.Info("sidecar is already running, skipping spawn")
		return AlreadyRunning, nil
	}

	runID := uuid.New().String()
	log := logger.WithRun(runID).With("component", "supervisor")

	startTime := time.Now()
	log.Info("spawning sidecar", "command", s.spec.String())

	h, err := s.launcher.Launch(ctx, s.spec)
	if err != nil {
		log.Error("failed to spawn sidecar", "error", err)
		return 0, &LaunchError{Binary: s.spec.Binary, Err: err}
	}
	h.RunID = runID

	if prev := s.registry.Set(h); prev != nil {
		// Unreachable while opMu is held; keep the old worker visible in logs
		log.Error("registry was occupied during spawn", "displacedPID", prev.PID)
	}

	var transcript io.WriteCloser
	if s.transcript != nil {
		if transcript, err = s.transcript(runID); err != nil {
			log.Warn("failed to open sidecar transcript", "error", err)
			transcript = nil
		}
	}

	relay := StartRelay(h, s.sink, transcript, log)
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		relay.Wait()
	}()

	log.Info("sidecar spawned and monitoring started", "pid", h.PID, "elapsed", time.Since(startTime))
	return Started, nil
}

// Shutdown writes the handshake line to the worker's stdin and returns
// without waiting for it to exit. On a write failure the handle is restored
// so a later Shutdown can retry.
func (s *Supervisor) Shutdown() (ShutdownResult, error) {
	if !s.available() {
		return 0, ErrStateUnavailable
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, ok := s.registry.Take()
	if !ok {
		s.log.Info("no active sidecar process to shutdown")
		return 0, ErrNotRunning
	}

	log := logger.WithRun(h.RunID).With("component", "supervisor")
	if err := h.WriteInput(s.shutdownLine); err != nil {
		log.Error("failed to write to sidecar stdin", "pid", h.PID, "error", err)
		s.registry.Set(h)
		return 0, &WriteFailedError{Err: err}
	}

	log.Info("sent shutdown command to sidecar", "pid", h.PID)
	return Acknowledged, nil
}

// OnApplicationExit sends the handshake on the shell's way out. Errors are
// logged and swallowed. When ExitKillGrace is positive the worker is killed if
// it has not exited within the grace, or at once if the handshake failed.
func (s *Supervisor) OnApplicationExit() {
	if !s.available() {
		return
	}

	s.opMu.Lock()
	h, ok := s.registry.Take()
	var writeErr error
	if ok {
		writeErr = h.WriteInput(s.shutdownLine)
	}
	s.opMu.Unlock()

	if !ok {
		s.log.Debug("no sidecar to stop on exit")
		return
	}

	log := logger.WithRun(h.RunID).With("component", "supervisor")
	if writeErr != nil {
		log.Error("failed to send shutdown command on exit", "pid", h.PID, "error", writeErr)
	} else {
		log.Info("sent shutdown command on exit", "pid", h.PID)
	}

	if s.exitKillGrace <= 0 {
		return
	}

	if writeErr == nil {
		select {
		case <-h.Done():
			log.Info("sidecar exited after shutdown command", "pid", h.PID)
			return
		case <-time.After(s.exitKillGrace):
			log.Warn("sidecar did not exit in time, killing", "pid", h.PID, "grace", s.exitKillGrace)
		}
	}

	if err := h.Terminate(); err != nil {
		log.Error("failed to kill sidecar", "pid", h.PID, "error", err)
	}
}

// Status reports the registry state without modifying it.
func (s *Supervisor) Status() Status {
	if !s.available() {
		return Status{}
	}
	h, ok := s.registry.TryGet()
	if !ok {
		return Status{State: StateEmpty}
	}
	return Status{
		State:  StateRunning,
		PID:    h.PID,
		RunID:  h.RunID,
		Exited: h.Exited(),
	}
}

// WaitRelays blocks until every relay started so far has finished. It only
// returns once all spawned workers have exited.
func (s *Supervisor) WaitRelays() {
	if s == nil {
		return
	}
	s.relays.Wait()
}
