// Package sidecar supervises the single long-lived worker process the
// desktop shell depends on.
//
// # Overview
//
// Three pieces cooperate:
//
//   - Registry: a mutex-guarded slot holding at most one process.Handle.
//   - Supervisor: spawns the worker when the slot is empty, and shuts it down
//     by writing the handshake line to its stdin.
//   - Relay: a goroutine per output stream that forwards every line to an
//     events.Sink until the stream closes, then reaps the process.
//
// # Lifecycle
//
//	reg := sidecar.NewRegistry()
//	sup := sidecar.NewSupervisor(sidecar.Config{Spec: spec}, reg, process.NewRealLauncher(), bus)
//	res, err := sup.Spawn(ctx)        // Started, or AlreadyRunning
//	res, err := sup.Shutdown()        // Acknowledged, or ErrNotRunning / *WriteFailedError
//	sup.OnApplicationExit()           // best effort, never fails
//
// # Shutdown handshake
//
// The worker is told to stop with a single line, "sidecar shutdown\n", on its
// stdin. Shutdown does not wait for the worker to exit and never kills it:
// once the line is written the worker is trusted to exit by itself. If the
// write fails the handle goes back into the registry so the caller can retry.
//
// OnApplicationExit sends the same line on the way out. By default it does not
// kill either, so a worker that ignores the line outlives the shell until the
// OS reclaims it. Config.ExitKillGrace opts into waiting that long for the
// worker to exit and then force-killing it.
//
// # Concurrency
//
// Spawn, Shutdown and OnApplicationExit are serialized, so a racing Spawn and
// Shutdown resolve to one of the two orders and the registry never holds more
// than one handle. Registry reads (TryGet, IsOccupied, Status) never wait on a
// launch in progress.
package sidecar
