// Package app wires the hasbase shell together: it prepares the data
// directory, owns the sidecar supervisor and exposes the user-facing
// start/shutdown commands and the exit hook.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"github.com/hasbase/hasbase-core/bootstrap"
	"github.com/hasbase/hasbase-core/cli"
	"github.com/hasbase/hasbase-core/config"
	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/ipc"
	"github.com/hasbase/hasbase-core/logger"
	"github.com/hasbase/hasbase-core/process"
	"github.com/hasbase/hasbase-core/sidecar"
)

// User-facing command results.
const (
	MsgStarted       = "Sidecar spawned and monitoring started."
	MsgShutdownSent  = "'sidecar shutdown' command sent."
	MsgNotRunning    = "No active sidecar process to shutdown."
	MsgStateNotFound = "Sidecar process state not found."
	MsgExited        = "Sidecar process has exited. Restart the application to start it again."
)

// ErrSidecarExited is returned by StartCommand when the registered sidecar
// died without a shutdown handshake. Its slot stays taken, so no new one is
// spawned.
var ErrSidecarExited = errors.New("sidecar exited")

// CommandError is a command failure with the message shown to the user. It
// unwraps to the sidecar error that caused it.
type CommandError struct {
	Msg string
	Err error
}

func (e *CommandError) Error() string { return e.Msg }

func (e *CommandError) Unwrap() error { return e.Err }

// Options configures a Shell. Zero fields get production defaults.
type Options struct {
	Config   *config.Config
	Fs       afero.Fs
	Launcher process.Launcher
	Bus      *events.Bus
	// ResolveBinary maps the configured binary name to a path.
	ResolveBinary func(name string) (string, error)
	// OnReady is called by the entry points once the shell is built and
	// before it starts serving.
	OnReady func(*Shell)
}

// Shell is the application shell around one sidecar.
type Shell struct {
	cfg        *config.Config
	fs         afero.Fs
	bus        *events.Bus
	supervisor *sidecar.Supervisor
	log        *slog.Logger

	exitOnce sync.Once
}

// New builds a Shell. A sidecar binary that cannot be resolved is kept as
// configured so the failure surfaces when it is spawned.
func New(opts Options) (*Shell, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = process.NewRealLauncher()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	resolve := opts.ResolveBinary
	if resolve == nil {
		resolve = cli.ResolveSidecar
	}

	log := logger.WithComponent("shell")

	binary, err := resolve(cfg.Sidecar.Binary)
	if err != nil {
		log.Warn("could not resolve sidecar binary", "binary", cfg.Sidecar.Binary, "error", err)
		binary = cfg.Sidecar.Binary
	}

	dir := cfg.Sidecar.WorkDir
	if dir != "" {
		if dir, err = config.ExpandHome(dir); err != nil {
			return nil, err
		}
	}

	spec := process.Spec{
		Binary: binary,
		Args:   cfg.Sidecar.Args,
		Env:    cfg.Sidecar.Env,
		Dir:    dir,
	}
	supCfg := sidecar.Config{
		Spec:            spec,
		ShutdownCommand: cfg.Sidecar.ShutdownCommand,
		ExitKillGrace:   cfg.Sidecar.ExitKillGrace,
	}
	if cfg.Log.SidecarTranscripts {
		supCfg.Transcript = openTranscript
	}
	sup := sidecar.NewSupervisor(supCfg, sidecar.NewRegistry(), launcher, bus)

	return &Shell{
		cfg:        cfg,
		fs:         fs,
		bus:        bus,
		supervisor: sup,
		log:        log,
	}, nil
}

// Bus returns the bus sidecar output is published on.
func (s *Shell) Bus() *events.Bus { return s.bus }

// Supervisor returns the sidecar supervisor.
func (s *Shell) Supervisor() *sidecar.Supervisor { return s.supervisor }

// Bootstrap prepares the data directory. Failures are logged and reported
// but never stop the shell.
func (s *Shell) Bootstrap() bootstrap.Report {
	root, err := s.cfg.BootstrapRoot()
	if err != nil {
		s.log.Error("cannot determine bootstrap root, skipping", "error", err)
		return bootstrap.Report{Failed: []bootstrap.ItemError{{Err: err}}}
	}
	return bootstrap.Run(s.fs, root, bootstrap.DefaultLayout())
}

// Setup runs the startup sequence: bootstrap, then spawn the sidecar when
// autostart is on. A spawn failure is logged and left for the user to retry
// with StartCommand.
func (s *Shell) Setup(ctx context.Context) bootstrap.Report {
	report := s.Bootstrap()

	if !s.cfg.Sidecar.Autostart {
		s.log.Info("sidecar autostart disabled")
		return report
	}

	s.log.Info("creating sidecar")
	if _, err := s.StartCommand(ctx); err != nil {
		s.log.Error("sidecar did not start", "error", err)
	}
	return report
}

// StartCommand spawns the sidecar. An already running sidecar counts as
// success.
func (s *Shell) StartCommand(ctx context.Context) (string, error) {
	s.log.Info("received command to start sidecar")

	res, err := s.supervisor.Spawn(ctx)
	if err != nil {
		if errors.Is(err, sidecar.ErrStateUnavailable) {
			return "", &CommandError{Msg: MsgStateNotFound, Err: err}
		}
		return "", &CommandError{Msg: err.Error(), Err: err}
	}
	if res == sidecar.AlreadyRunning && s.supervisor.Status().Exited {
		s.log.Warn("start requested but the registered sidecar has exited")
		return "", &CommandError{Msg: MsgExited, Err: ErrSidecarExited}
	}
	return MsgStarted, nil
}

func openTranscript(runID string) (io.WriteCloser, error) {
	f, err := logger.OpenSidecarLog(runID)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ShutdownCommand sends the shutdown handshake to the sidecar.
func (s *Shell) ShutdownCommand() (string, error) {
	s.log.Info("received command to shutdown sidecar")

	_, err := s.supervisor.Shutdown()
	switch {
	case err == nil:
		return MsgShutdownSent, nil
	case errors.Is(err, sidecar.ErrNotRunning):
		return "", &CommandError{Msg: MsgNotRunning, Err: err}
	case errors.Is(err, sidecar.ErrStateUnavailable):
		return "", &CommandError{Msg: MsgStateNotFound, Err: err}
	case errors.Is(err, sidecar.ErrWriteFailed):
		msg := "Failed to write to sidecar stdin"
		var wfe *sidecar.WriteFailedError
		if errors.As(err, &wfe) {
			msg += ": " + wfe.Err.Error()
		}
		return "", &CommandError{Msg: msg, Err: err}
	default:
		return "", &CommandError{Msg: err.Error(), Err: err}
	}
}

// StatusInfo reports the sidecar state for the control socket.
func (s *Shell) StatusInfo() ipc.Status {
	st := s.supervisor.Status()
	return ipc.Status{
		State:  st.State.String(),
		PID:    st.PID,
		RunID:  st.RunID,
		Exited: st.Exited,
	}
}

// ExitRequested is the application exit hook. Only the first call sends the
// shutdown handshake; later calls return immediately.
func (s *Shell) ExitRequested() {
	s.exitOnce.Do(func() {
		s.log.Info("exit requested, stopping sidecar")
		s.supervisor.OnApplicationExit()
		s.log.Info("sidecar closed")
	})
}

var _ ipc.Handler = (*Shell)(nil)
