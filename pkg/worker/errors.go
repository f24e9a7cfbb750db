package worker

import (
	stderrors "errors"
	"fmt"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// Pool errors. ErrQueueFull wraps the shared queue-full sentinel so it
// classifies as transient.
var (
	ErrPoolNotStarted     = stderrors.New("worker pool not started")
	ErrPoolStopped        = stderrors.New("worker pool stopped")
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)
	ErrQueueFull          = fmt.Errorf("worker pool: %w", errors.ErrQueueFull)
	ErrNilProcessor       = stderrors.New("worker pool: nil processor")
	ErrStopTimeout        = stderrors.New("worker pool: timed out waiting for workers")
)
