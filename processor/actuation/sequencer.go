// Package actuation drives timed vibration pulses on the device
package actuation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

// DefaultDuration is the pulse length used when none is given
const DefaultDuration = 100 * time.Millisecond

// ErrStopped is returned by Sequence once Stop has begun
var ErrStopped = errors.New("sequencer stopped")

// State is the phase of one activation run
type State int32

// Run phases, in order
const (
	StateIdle State = iota
	StateActivating
	StateWaiting
	StateDeactivating
	StateDone
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateWaiting:
		return "waiting"
	case StateDeactivating:
		return "deactivating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Sender writes one message to the device
type Sender interface {
	Send(ctx context.Context, msg message.ProtocolMessage) error
}

// Readiness reports whether the outbound transport is open
type Readiness interface {
	IsReady() bool
}

// Run is one activate/deactivate pair
type Run struct {
	ID       string
	Duration time.Duration
	Started  time.Time

	state atomic.Int32
	done  chan struct{}
}

// State returns the current phase
func (r *Run) State() State { return State(r.state.Load()) }

// Done is closed after the deactivate command has been sent
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) set(s State) { r.state.Store(int32(s)) }

// SequencerDeps holds runtime dependencies for the sequencer
type SequencerDeps struct {
	Name            string
	Sender          Sender
	Readiness       Readiness
	DefaultDuration time.Duration           // <= 0 uses DefaultDuration
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil
}

type sequencerMetrics struct {
	runs       *prometheus.CounterVec
	active     prometheus.Gauge
	sendErrors prometheus.Counter
}

func newSequencerMetrics(registry *metric.MetricsRegistry, service string) *sequencerMetrics {
	if registry == nil {
		return nil
	}
	m := &sequencerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "actuation",
			Name: "sequences_total", Help: "Activation requests, by result",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hapticbridge", Subsystem: "actuation",
			Name: "sequences_active", Help: "Runs waiting to deactivate",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "actuation",
			Name: "send_errors_total", Help: "Activate or deactivate sends that failed",
		}),
	}
	_ = registry.RegisterCounterVec(service, "sequences", m.runs)
	_ = registry.RegisterGauge(service, "sequences_active", m.active)
	_ = registry.RegisterCounter(service, "send_errors", m.sendErrors)
	return m
}

// Sequencer sends /vibrate 1, then /vibrate 0 after a delay. Runs are
// independent: a second request while one is waiting starts its own pair.
type Sequencer struct {
	name            string
	sender          Sender
	readiness       Readiness
	defaultDuration time.Duration
	logger          *slog.Logger
	metrics         *sequencerMetrics

	// mu orders wg.Add in Sequence against Stop
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	active     atomic.Int64
	completed  atomic.Int64
	refused    atomic.Int64
	sendErrors atomic.Int64
	lastError  atomic.Value // string
	startTime  time.Time
}

var (
	_ component.Discoverable       = (*Sequencer)(nil)
	_ component.LifecycleComponent = (*Sequencer)(nil)
)

// NewSequencer creates a sequencer
func NewSequencer(deps SequencerDeps) *Sequencer {
	name := deps.Name
	if name == "" {
		name = "actuation-sequencer"
	}
	d := deps.DefaultDuration
	if d <= 0 {
		d = DefaultDuration
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sequencer{
		name:            name,
		sender:          deps.Sender,
		readiness:       deps.Readiness,
		defaultDuration: d,
		logger:          logger.With("component", name),
		metrics:         newSequencerMetrics(deps.MetricsRegistry, name),
		startTime:       time.Now(),
	}
	s.lastError.Store("")
	return s
}

// DefaultDuration returns the pulse length used for d <= 0
func (s *Sequencer) DefaultDuration() time.Duration { return s.defaultDuration }

// Sequence starts one vibration pulse of length d. When the transport is
// not ready it sends nothing and returns ErrTransportNotReady; after Stop
// has begun it returns ErrStopped. Once the
// activate command has been attempted the deactivate always follows, even
// if ctx is cancelled meanwhile.
func (s *Sequencer) Sequence(ctx context.Context, d time.Duration) (*Run, error) {
	if d <= 0 {
		d = s.defaultDuration
	}

	if s.readiness == nil || !s.readiness.IsReady() {
		s.refuse()
		s.logger.Warn("Vibration refused, outbound transport not ready")
		return nil, errors.WrapTransient(errors.ErrTransportNotReady, s.name, "Sequence", "check readiness")
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.refuse()
		s.logger.Warn("Vibration refused, sequencer stopping")
		return nil, errors.WrapTransient(ErrStopped, s.name, "Sequence", "check running")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run := &Run{
		ID:       uuid.NewString(),
		Duration: d,
		Started:  time.Now(),
		done:     make(chan struct{}),
	}

	s.active.Add(1)
	if s.metrics != nil {
		s.metrics.runs.WithLabelValues("started").Inc()
		s.metrics.active.Inc()
	}

	run.set(StateActivating)
	s.send(ctx, run, true)
	run.set(StateWaiting)
	s.logger.Debug("Vibration started", "run", run.ID, "duration", d)

	// Deactivation outlives the request context.
	offCtx := context.WithoutCancel(ctx)
	time.AfterFunc(d, func() {
		defer s.wg.Done()

		run.set(StateDeactivating)
		s.send(offCtx, run, false)
		run.set(StateDone)

		s.active.Add(-1)
		s.completed.Add(1)
		if s.metrics != nil {
			s.metrics.active.Dec()
		}
		close(run.done)
		s.logger.Debug("Vibration stopped", "run", run.ID, "elapsed", time.Since(run.Started))
	})

	return run, nil
}

func (s *Sequencer) refuse() {
	s.refused.Add(1)
	if s.metrics != nil {
		s.metrics.runs.WithLabelValues("refused").Inc()
	}
}

func (s *Sequencer) send(ctx context.Context, run *Run, on bool) {
	if err := s.sender.Send(ctx, message.Vibrate(on)); err != nil {
		s.sendErrors.Add(1)
		s.lastError.Store(err.Error())
		if s.metrics != nil {
			s.metrics.sendErrors.Inc()
		}
		s.logger.Error("Vibration command failed", "run", run.ID, "on", on, "error", err)
	}
}

// Active returns the number of runs still waiting to deactivate
func (s *Sequencer) Active() int { return int(s.active.Load()) }

// Wait blocks until every accepted run has sent its deactivate command or
// timeout elapses.
func (s *Sequencer) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("%d run(s) still active after %v", s.Active(), timeout),
			s.name, "Wait", "drain runs")
	}
}

// Initialize checks that a sender is set
func (s *Sequencer) Initialize() error {
	if s.sender == nil {
		return errors.WrapInvalid(fmt.Errorf("nil sender"), s.name, "Initialize", "sender validation")
	}
	return nil
}

// Start accepts runs again after a Stop; runs are started by Sequence
func (s *Sequencer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	return nil
}

// Stop refuses new runs and waits for outstanding ones to deactivate
func (s *Sequencer) Stop(timeout time.Duration) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	return s.Wait(timeout)
}

// Meta returns the component metadata
func (s *Sequencer) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "processor",
		Description: fmt.Sprintf("Vibration pulses, default %v", s.defaultDuration),
		Version:     "1.0.0",
	}
}

// Health is degraded while the transport is not ready, since every
// request is refused until then.
func (s *Sequencer) Health() component.HealthStatus {
	lastErr, _ := s.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    true,
		Degraded:   s.readiness == nil || !s.readiness.IsReady(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.sendErrors.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the completed-run rate
func (s *Sequencer) DataFlow() component.FlowMetrics {
	completed := s.completed.Load()
	var errorRate float64
	if completed > 0 {
		errorRate = float64(s.sendErrors.Load()) / float64(2*completed)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(completed, time.Since(s.startTime)),
		ErrorRate:         errorRate,
	}
}
