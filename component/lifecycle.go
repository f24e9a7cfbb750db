package component

import (
	"context"
	"time"
)

// State is where a managed component is in its lifecycle
type State int

// Lifecycle states, in the order a healthy component passes through them
const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = [...]string{"created", "initialized", "started", "stopped", "failed"}

func (cs State) String() string {
	if cs < 0 || int(cs) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[cs]
}

// LifecycleComponent is a Discoverable that owns sockets, files or
// goroutines. Initialize only validates; Start acquires; Stop releases within
// timeout and is safe to call more than once.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
