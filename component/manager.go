package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// StatusRecorder receives every lifecycle state change, keyed by component
// name. *metric.Metrics implements it.
type StatusRecorder interface {
	RecordServiceStatus(service string, status int)
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithStatusRecorder reports state changes to r
func WithStatusRecorder(r StatusRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// Manager starts lifecycle components in registration order and stops them
// in reverse order.
type Manager struct {
	logger     *slog.Logger
	recorder   StatusRecorder
	mu         sync.Mutex
	components []LifecycleComponent
	states     map[string]State
	started    int
}

// NewManager creates an empty Manager
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger: logger.With("component", "manager"),
		states: make(map[string]State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// setState expects m.mu to be held
func (m *Manager) setState(name string, st State) {
	m.states[name] = st
	if m.recorder != nil {
		m.recorder.RecordServiceStatus(name, int(st))
	}
}

// Add registers a component. Names must be unique.
func (m *Manager) Add(c LifecycleComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Meta().Name
	if _, exists := m.states[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already added", name), "Manager", "Add", "register component")
	}
	m.components = append(m.components, c)
	m.setState(name, StateCreated)
	return nil
}

// Start initializes and starts every component in order. If one fails, the
// components already started are stopped in reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context, stopTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.components {
		name := c.Meta().Name
		if err := c.Initialize(); err != nil {
			m.setState(name, StateFailed)
			m.rollback(i, stopTimeout)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("initialize %s", name))
		}
		m.setState(name, StateInitialized)

		if err := c.Start(ctx); err != nil {
			m.setState(name, StateFailed)
			m.logger.Error("Component failed to start", "name", name, "type", c.Meta().Type, "error", err)
			m.rollback(i, stopTimeout)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", name))
		}
		m.setState(name, StateStarted)
		m.started = i + 1
		m.logger.Info("Component started", "name", name, "type", c.Meta().Type)
	}
	return nil
}

// rollback stops the first n components in reverse order. Caller holds m.mu.
func (m *Manager) rollback(n int, timeout time.Duration) {
	for i := n - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(timeout); err != nil {
			m.logger.Warn("Component stop failed during rollback", "name", c.Meta().Name, "error", err)
		}
		m.setState(c.Meta().Name, StateStopped)
	}
	m.started = 0
}

// Stop stops every started component in reverse order, continuing past
// failures. The first error encountered is returned.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		name := c.Meta().Name
		if err := c.Stop(timeout); err != nil {
			m.setState(name, StateFailed)
			m.logger.Error("Component failed to stop", "name", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Manager", "Stop", fmt.Sprintf("stop %s", name))
			}
			continue
		}
		m.setState(name, StateStopped)
		m.logger.Info("Component stopped", "name", name)
	}
	m.started = 0
	return firstErr
}

// State returns the lifecycle state of the named component
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[name]
	return s, ok
}

// Components returns the registered components in start order
func (m *Manager) Components() []Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Discoverable, len(m.components))
	for i, c := range m.components {
		out[i] = c
	}
	return out
}
