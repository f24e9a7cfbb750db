// Package bridge connects the device listener to consumers, telemetry and
// actuation.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/pkg/worker"
	"github.com/salernoelia/haptic-hand-controller-prototype/processor/actuation"
)

// DefaultTrigger is the consumer text that requests a vibration pulse
const DefaultTrigger = "vibrate"

// Broadcaster pushes a payload to every connected consumer
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) int
}

// Recorder persists telemetry messages
type Recorder interface {
	Record(ctx context.Context, msg message.ProtocolMessage) error
}

// Sequencer runs vibration pulses
type Sequencer interface {
	Sequence(ctx context.Context, d time.Duration) (*actuation.Run, error)
}

// ControllerDeps holds runtime dependencies for the controller
type ControllerDeps struct {
	Name              string
	Routes            map[string]Route // nil uses DefaultRoutes("")
	Broadcaster       Broadcaster
	Recorder          Recorder
	Sequencer         Sequencer
	Trigger           string        // consumer keyword, defaults to "vibrate"
	ActuationDuration time.Duration // <= 0 lets the sequencer choose
	QueueSize         int           // inbound queue, defaults to 256
	MetricsRegistry   *metric.MetricsRegistry
	Logger            *slog.Logger
}

// Controller routes inbound device messages and handles consumer requests.
// Inbound messages go through a single-worker queue so they are handled in
// arrival order without blocking the listener.
type Controller struct {
	name      string
	routes    map[string]Route
	broadcast Broadcaster
	recorder  Recorder
	sequencer Sequencer
	trigger   string
	duration  time.Duration
	logger    *slog.Logger
	core      *metric.Metrics

	pool *worker.Pool[message.ProtocolMessage]

	running      atomic.Bool
	startTime    time.Time
	routed       atomic.Int64
	unroutable   atomic.Int64
	routeErrors  atomic.Int64
	dropped      atomic.Int64
	triggers     atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Value // time.Time
}

var (
	_ component.Discoverable       = (*Controller)(nil)
	_ component.LifecycleComponent = (*Controller)(nil)
)

// NewController validates the route table against the supplied
// collaborators and builds the controller.
func NewController(deps ControllerDeps) (*Controller, error) {
	name := deps.Name
	if name == "" {
		name = "bridge"
	}
	routes := deps.Routes
	if routes == nil {
		routes = DefaultRoutes("")
	}
	if err := validateRoutes(routes); err != nil {
		return nil, errors.WrapInvalid(err, name, "NewController", "validate routes")
	}
	for addr, r := range routes {
		if r.Action == ActionBroadcast && deps.Broadcaster == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("route %s needs a broadcaster", addr), name, "NewController", "validate routes")
		}
		if r.Action == ActionRecord && deps.Recorder == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("route %s needs a recorder", addr), name, "NewController", "validate routes")
		}
	}

	trigger := deps.Trigger
	if trigger == "" {
		trigger = DefaultTrigger
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		name:      name,
		routes:    make(map[string]Route, len(routes)),
		broadcast: deps.Broadcaster,
		recorder:  deps.Recorder,
		sequencer: deps.Sequencer,
		trigger:   trigger,
		duration:  deps.ActuationDuration,
		logger:    logger.With("component", name),
		startTime: time.Now(),
	}
	for addr, r := range routes {
		c.routes[addr] = r
	}
	if deps.MetricsRegistry != nil {
		c.core = deps.MetricsRegistry.CoreMetrics()
	}

	opts := []worker.Option[message.ProtocolMessage]{worker.WithErrorHandler(c.routeFailed)}
	if deps.MetricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[message.ProtocolMessage](deps.MetricsRegistry, "hapticbridge_dispatch"))
	}
	c.pool = worker.NewPool(1, deps.QueueSize, c.Route, opts...)

	c.lastError.Store("")
	c.lastActivity.Store(time.Time{})
	return c, nil
}

// Routes returns a copy of the routing table
func (c *Controller) Routes() map[string]Route {
	out := make(map[string]Route, len(c.routes))
	for addr, r := range c.routes {
		out[addr] = r
	}
	return out
}

// Dispatch queues msg for routing without blocking. It has the listener's
// Handler signature. A full queue drops the message.
func (c *Controller) Dispatch(_ context.Context, msg message.ProtocolMessage) {
	if c.core != nil {
		c.core.RecordMessageReceived(c.name, msg.Address)
	}
	if err := c.pool.Submit(msg); err != nil {
		c.dropped.Add(1)
		if c.core != nil {
			c.core.RecordMessageRouted(msg.Address, "dropped")
		}
		c.logger.Warn("Dropping inbound message", "address", msg.Address, "error", err)
	}
}

// Route handles one message according to the routing table. Unknown
// addresses return ErrUnroutable and are otherwise ignored.
func (c *Controller) Route(ctx context.Context, msg message.ProtocolMessage) error {
	start := time.Now()
	c.lastActivity.Store(start)

	route, ok := c.routes[msg.Address]
	if !ok {
		c.unroutable.Add(1)
		c.record(msg.Address, "unroutable", start)
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnroutable, msg.Address), c.name, "Route", "lookup route")
	}

	var err error
	switch route.Action {
	case ActionBroadcast:
		err = c.broadcastOrientation(ctx, msg)
	case ActionRecord:
		err = c.recorder.Record(ctx, msg)
	case ActionLog:
		c.logMessage(msg)
	}

	if err != nil {
		c.routeErrors.Add(1)
		c.lastError.Store(err.Error())
		c.record(msg.Address, "error", start)
		return err
	}

	c.routed.Add(1)
	c.record(msg.Address, "ok", start)
	return nil
}

// routeFailed logs a dispatched message that could not be routed. Unknown
// addresses are expected from newer firmware and stay at debug level.
func (c *Controller) routeFailed(msg message.ProtocolMessage, err error) {
	if errors.Is(err, errors.ErrUnroutable) {
		c.logger.Debug("No route for message", "address", msg.Address)
		return
	}
	c.logger.Warn("Failed to handle message", "address", msg.Address, "error", err)
}

func (c *Controller) record(address, status string, start time.Time) {
	if c.core == nil {
		return
	}
	c.core.RecordMessageRouted(address, status)
	c.core.RecordProcessingDuration(c.name, "route", time.Since(start))
}

func (c *Controller) broadcastOrientation(ctx context.Context, msg message.ProtocolMessage) error {
	sample, err := message.OrientationFromMessage(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return errors.WrapInvalid(err, c.name, "broadcastOrientation", "marshal sample")
	}

	n := c.broadcast.Broadcast(ctx, payload)
	c.logger.Debug("Orientation",
		"theta", fmt.Sprintf("%.2f", sample.Theta),
		"phi", fmt.Sprintf("%.2f", sample.Phi),
		"consumers", n)
	return nil
}

func (c *Controller) logMessage(msg message.ProtocolMessage) {
	if state, err := msg.Int(0); err == nil {
		c.logger.Info("Device message", "address", msg.Address, "state", state)
		return
	}
	c.logger.Info("Device message", "address", msg.Address, "args", msg.Flatten())
}

// HandleConsumerMessage runs a vibration pulse when text is exactly the
// trigger keyword. Refusals are logged; nothing is returned to the consumer.
func (c *Controller) HandleConsumerMessage(ctx context.Context, consumerID, text string) {
	if text != c.trigger {
		c.logger.Debug("Ignoring consumer message", "consumer", consumerID, "text", text)
		return
	}
	if c.sequencer == nil {
		c.logger.Warn("Vibration requested but actuation is disabled", "consumer", consumerID)
		return
	}

	c.triggers.Add(1)
	run, err := c.sequencer.Sequence(ctx, c.duration)
	if err != nil {
		c.lastError.Store(err.Error())
		if c.core != nil {
			c.core.RecordError(c.name, "actuation")
		}
		c.logger.Warn("Vibration request refused", "consumer", consumerID, "error", err)
		return
	}
	c.logger.Info("Vibration triggered", "consumer", consumerID, "run", run.ID, "duration", run.Duration)
}

// HandleRemoteTrigger treats a payload received from the message broker
// like consumer text.
func (c *Controller) HandleRemoteTrigger(ctx context.Context, data []byte) {
	c.HandleConsumerMessage(ctx, "nats", string(data))
}

// Initialize is a no-op; the route table was validated by NewController.
func (c *Controller) Initialize() error { return nil }

// Start launches the routing worker
func (c *Controller) Start(ctx context.Context) error {
	if err := c.pool.Start(ctx); err != nil {
		return errors.Wrap(err, c.name, "Start", "start dispatch worker")
	}
	c.running.Store(true)
	c.startTime = time.Now()
	c.logger.Info("Bridge started", "routes", len(c.routes), "trigger", c.trigger)
	return nil
}

// Stop drains queued messages, waiting up to timeout
func (c *Controller) Stop(timeout time.Duration) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := c.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, c.name, "Stop", "drain dispatch queue")
	}
	return nil
}

// Stats returns the dispatch queue statistics
func (c *Controller) Stats() worker.PoolStats { return c.pool.Stats() }

// Meta returns the component metadata
func (c *Controller) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: fmt.Sprintf("Routes %d device addresses", len(c.routes)),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the dispatch worker runs
func (c *Controller) Health() component.HealthStatus {
	lastErr, _ := c.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    c.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(c.routeErrors.Load() + c.dropped.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow returns the routing rate
func (c *Controller) DataFlow() component.FlowMetrics {
	routed := c.routed.Load()
	lastActivity, _ := c.lastActivity.Load().(time.Time)

	var errorRate float64
	if total := routed + c.routeErrors.Load(); total > 0 {
		errorRate = float64(c.routeErrors.Load()) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(routed, time.Since(c.startTime)),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
