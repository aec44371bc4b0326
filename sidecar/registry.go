package sidecar

import (
	"sync"

	"github.com/hasbase/hasbase-core/process"
)

// Registry is the single slot holding the running sidecar's handle.
// It is created empty when the shell starts and passed to whoever needs it.
type Registry struct {
	mu     sync.Mutex
	handle *process.Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// TryGet returns the current handle without removing it.
func (r *Registry) TryGet() (*process.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle, r.handle != nil
}

// Set stores h and returns whatever it displaced. Callers check IsOccupied
// first; a non-nil return means that check was skipped.
func (r *Registry) Set(h *process.Handle) *process.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.handle
	r.handle = h
	return prev
}

// Take removes and returns the current handle, leaving the slot empty.
func (r *Registry) Take() (*process.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handle
	r.handle = nil
	return h, h != nil
}

// IsOccupied reports whether a handle is stored.
func (r *Registry) IsOccupied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil
}
