package fleet

import "sync/atomic"

// Handle holds the current registry generation.
//
// Readers call Current once at the start of an operation and use that
// snapshot throughout. Reload builds a complete new registry and publishes
// it with Swap, so a reader never observes a partial generation.
type Handle struct {
	current atomic.Pointer[Registry]
}

// NewHandle creates a handle. A nil registry is replaced with Empty().
func NewHandle(r *Registry) *Handle {
	if r == nil {
		r = Empty()
	}
	h := &Handle{}
	h.current.Store(r)
	return h
}

// Current returns the current registry snapshot. It is never nil.
func (h *Handle) Current() *Registry {
	return h.current.Load()
}

// Swap publishes r and returns the generation it replaced.
func (h *Handle) Swap(r *Registry) *Registry {
	if r == nil {
		r = Empty()
	}
	return h.current.Swap(r)
}
