package sidecar

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailed means the worker binary could not be started.
	ErrLaunchFailed = errors.New("sidecar launch failed")

	// ErrStateUnavailable means the supervisor or its registry was never set up.
	ErrStateUnavailable = errors.New("sidecar process state not found")

	// ErrNotRunning is returned by Shutdown when the registry is empty.
	ErrNotRunning = errors.New("no active sidecar process to shutdown")

	// ErrWriteFailed means the handshake line could not be written to stdin.
	ErrWriteFailed = errors.New("failed to write to sidecar stdin")
)

// LaunchError reports why a spawn failed. It matches ErrLaunchFailed with errors.Is.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch sidecar %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}

// WriteFailedError reports a failed handshake write. The handle has already
// been put back in the registry when this is returned. It matches
// ErrWriteFailed with errors.Is.
type WriteFailedError struct {
	Err error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrWriteFailed, e.Err)
}

func (e *WriteFailedError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}
