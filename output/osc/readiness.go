package osc

import "sync"

// Readiness is a one-way signal that the outbound transport is open.
// It starts false and becomes true exactly once.
type Readiness struct {
	once  sync.Once
	ready chan struct{}
}

// NewReadiness returns a signal in the not-ready state
func NewReadiness() *Readiness {
	return &Readiness{ready: make(chan struct{})}
}

// MarkReady flips the signal. Later calls do nothing.
func (r *Readiness) MarkReady() {
	r.once.Do(func() { close(r.ready) })
}

// IsReady reports whether MarkReady has been called
func (r *Readiness) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once the transport is open
func (r *Readiness) Ready() <-chan struct{} {
	return r.ready
}
