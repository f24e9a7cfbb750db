// Package websocket provides the consumer-facing WebSocket push channel
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

// MessageHandler receives text frames sent by consumers.
type MessageHandler func(ctx context.Context, consumerID, text string)

// Config holds the HTTP server and connection maintenance settings
type Config struct {
	Bind         string        // listen host, empty for all interfaces
	Port         int           // 0 picks a free port
	Path         string        // WebSocket endpoint
	PingInterval time.Duration // keepalive ping period
	WriteTimeout time.Duration // per-frame write deadline
	SendQueue    int           // per-consumer outgoing frame buffer
}

// DefaultConfig serves WebSocket on :8080 at "/"
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		Path:         "/",
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendQueue:    64,
	}
}

// BroadcasterDeps holds runtime dependencies for the broadcaster
type BroadcasterDeps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil
}

// consumer is one connected WebSocket client
type consumer struct {
	id          string
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	send        chan []byte
	done        chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
	lastPong    atomic.Value // time.Time
}

type broadcasterMetrics struct {
	framesSent         prometheus.Counter
	bytesSent          prometheus.Counter
	framesDropped      prometheus.Counter
	framesReceived     prometheus.Counter
	consumersConnected prometheus.Gauge
	connectionsTotal   prometheus.Counter
	disconnections     *prometheus.CounterVec
	upgradeErrors      prometheus.Counter
}

func newBroadcasterMetrics(registry *metric.MetricsRegistry, service string) *broadcasterMetrics {
	if registry == nil {
		return nil
	}

	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "hapticbridge", Subsystem: "websocket", Name: name, Help: help}
	}
	m := &broadcasterMetrics{
		framesSent:       prometheus.NewCounter(opts("frames_sent_total", "Text frames written to consumers")),
		bytesSent:        prometheus.NewCounter(opts("bytes_sent_total", "Bytes written to consumers")),
		framesDropped:    prometheus.NewCounter(opts("frames_dropped_total", "Frames dropped because a consumer queue was full")),
		framesReceived:   prometheus.NewCounter(opts("frames_received_total", "Text frames received from consumers")),
		connectionsTotal: prometheus.NewCounter(opts("connections_total", "Consumer connections accepted")),
		upgradeErrors:    prometheus.NewCounter(opts("upgrade_errors_total", "Failed WebSocket upgrades")),
		disconnections: prometheus.NewCounterVec(opts("disconnections_total", "Consumer disconnections"),
			[]string{"reason"}),
		consumersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hapticbridge", Subsystem: "websocket",
			Name: "consumers", Help: "Currently connected consumers",
		}),
	}

	_ = registry.RegisterCounter(service, "frames_sent", m.framesSent)
	_ = registry.RegisterCounter(service, "bytes_sent", m.bytesSent)
	_ = registry.RegisterCounter(service, "frames_dropped", m.framesDropped)
	_ = registry.RegisterCounter(service, "frames_received", m.framesReceived)
	_ = registry.RegisterCounter(service, "connections", m.connectionsTotal)
	_ = registry.RegisterCounter(service, "upgrade_errors", m.upgradeErrors)
	_ = registry.RegisterCounterVec(service, "disconnections", m.disconnections)
	_ = registry.RegisterGauge(service, "consumers", m.consumersConnected)
	return m
}

// Broadcaster accepts WebSocket consumers and pushes text frames to all of
// them. Delivery is best effort: a consumer whose queue is full misses the
// frame, and nobody waits for acknowledgement.
type Broadcaster struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	registry *metric.MetricsRegistry

	lifecycleMu sync.Mutex
	running     atomic.Bool
	server      *http.Server
	listener    net.Listener
	handlers    map[string]http.Handler
	onMessage   MessageHandler
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time

	consumersMu sync.RWMutex
	consumers   map[string]*consumer

	framesSent   atomic.Int64
	bytesSent    atomic.Int64
	dropped      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time

	metrics *broadcasterMetrics
}

var (
	_ component.Discoverable       = (*Broadcaster)(nil)
	_ component.LifecycleComponent = (*Broadcaster)(nil)
)

// NewBroadcaster creates a broadcaster. Zero-valued config fields take defaults.
func NewBroadcaster(deps BroadcasterDeps) *Broadcaster {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}

	name := deps.Name
	if name == "" {
		name = "ws-broadcaster"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broadcaster{
		name:   name,
		cfg:    cfg,
		logger: logger.With("component", name),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consumers are unauthenticated browser pages on the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		registry:  deps.MetricsRegistry,
		handlers:  make(map[string]http.Handler),
		consumers: make(map[string]*consumer),
		startTime: time.Now(),
		metrics:   newBroadcasterMetrics(deps.MetricsRegistry, name),
	}
	b.lastActivity.Store(time.Time{})
	return b
}

// Handle mounts an extra HTTP handler (metrics, health) on the same server.
// It must be called before Start.
func (b *Broadcaster) Handle(pattern string, h http.Handler) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, b.name, "Handle", "mount handler")
	}
	if pattern == b.cfg.Path {
		return errors.WrapInvalid(fmt.Errorf("pattern %q is the WebSocket path", pattern), b.name, "Handle", "mount handler")
	}
	b.handlers[pattern] = h
	return nil
}

// OnMessage sets the callback for consumer text frames. It must be called before Start.
func (b *Broadcaster) OnMessage(h MessageHandler) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	b.onMessage = h
}

// Meta returns the component metadata
func (b *Broadcaster) Meta() component.Metadata {
	return component.Metadata{
		Name:        b.name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket push channel on :%d%s", b.cfg.Port, b.cfg.Path),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the HTTP server runs
func (b *Broadcaster) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    b.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(b.errorCount.Load()),
		Uptime:     time.Since(b.startTime),
	}
}

// DataFlow returns the outgoing frame rate
func (b *Broadcaster) DataFlow() component.FlowMetrics {
	uptime := time.Since(b.startTime)
	sent := b.framesSent.Load()
	lastActivity, _ := b.lastActivity.Load().(time.Time)

	var dropRate float64
	if total := sent + b.dropped.Load(); total > 0 {
		dropRate = float64(b.dropped.Load()) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(sent, uptime),
		BytesPerSecond:    component.Rate(b.bytesSent.Load(), uptime),
		ErrorRate:         dropRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration
func (b *Broadcaster) Initialize() error {
	if b.cfg.Port < 0 || b.cfg.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", b.cfg.Port), b.name, "Initialize", "port validation")
	}
	if b.cfg.Path == "" || b.cfg.Path[0] != '/' {
		return errors.WrapInvalid(fmt.Errorf("invalid path %q", b.cfg.Path), b.name, "Initialize", "path validation")
	}
	return nil
}

// Start binds the HTTP listener and begins accepting consumers. A bind
// failure is returned as fatal.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, b.name, "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	for pattern, h := range b.handlers {
		mux.Handle(pattern, h)
	}
	onMessage := b.onMessage
	mux.HandleFunc(b.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		b.handleWebSocket(ctx, onMessage, w, r)
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(b.cfg.Bind, fmt.Sprint(b.cfg.Port)))
	if err != nil {
		return errors.WrapFatal(err, b.name, "Start", fmt.Sprintf("listen on port %d", b.cfg.Port))
	}

	b.listener = ln
	b.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	b.shutdown = make(chan struct{})
	b.startTime = time.Now()
	b.running.Store(true)

	b.wg.Add(2)
	go b.serve(b.server, ln)
	go b.maintainConsumers(ctx, b.shutdown)

	b.logger.Info("Accepting consumers", "addr", ln.Addr().String(), "path", b.cfg.Path)
	return nil
}

func (b *Broadcaster) serve(server *http.Server, ln net.Listener) {
	defer b.wg.Done()
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		b.errorCount.Add(1)
		b.logger.Error("HTTP server failed", "error", err)
	}
}

// Addr returns the bound listen address, or nil before Start.
func (b *Broadcaster) Addr() net.Addr {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop shuts the HTTP server down, closes every consumer and waits up to
// timeout for connection goroutines to exit.
func (b *Broadcaster) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	close(b.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("HTTP server shutdown error", "error", err)
	}

	b.consumersMu.RLock()
	all := make([]*consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		all = append(all, c)
	}
	b.consumersMu.RUnlock()
	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		b.removeConsumer(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	b.listener = nil
	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), b.name, "Stop", "graceful shutdown")
	}
}

func (b *Broadcaster) handleWebSocket(ctx context.Context, onMessage MessageHandler, w http.ResponseWriter, r *http.Request) {
	if !b.running.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		b.errorCount.Add(1)
		if b.metrics != nil {
			b.metrics.upgradeErrors.Inc()
		}
		return
	}

	c := &consumer{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      r.RemoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, b.cfg.SendQueue),
		done:        make(chan struct{}),
	}
	c.lastPong.Store(time.Now())

	b.consumersMu.Lock()
	b.consumers[c.id] = c
	count := len(b.consumers)
	b.consumersMu.Unlock()

	b.recordConsumers(count)
	if b.metrics != nil {
		b.metrics.connectionsTotal.Inc()
	}
	b.logger.Info("Consumer connected", "consumer", c.id, "remote", c.remote, "consumers", count)

	b.wg.Add(2)
	go b.writePump(c)
	go b.readPump(ctx, c, onMessage)
}

func (b *Broadcaster) recordConsumers(count int) {
	if b.metrics != nil {
		b.metrics.consumersConnected.Set(float64(count))
	}
	if b.registry != nil {
		b.registry.CoreMetrics().RecordConsumers(count)
	}
}

// readPump reads consumer frames until the connection fails. Consumer text
// is handed to the OnMessage callback.
func (b *Broadcaster) readPump(ctx context.Context, c *consumer, onMessage MessageHandler) {
	defer b.wg.Done()
	defer b.removeConsumer(c, "read_closed")

	c.conn.SetReadLimit(4096)
	deadline := 2*b.cfg.PingInterval + b.cfg.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("Consumer read failed", "consumer", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		if msgType != websocket.TextMessage {
			continue
		}
		if b.metrics != nil {
			b.metrics.framesReceived.Inc()
		}
		if onMessage != nil {
			onMessage(ctx, c.id, string(data))
		}
	}
}

// writePump is the only goroutine that writes data frames to c.
func (b *Broadcaster) writePump(c *consumer) {
	defer b.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.errorCount.Add(1)
				b.removeConsumer(c, "write_error")
				return
			}
			b.framesSent.Add(1)
			b.bytesSent.Add(int64(len(payload)))
			b.lastActivity.Store(time.Now())
			if b.metrics != nil {
				b.metrics.framesSent.Inc()
				b.metrics.bytesSent.Add(float64(len(payload)))
			}
		}
	}
}

// removeConsumer marks c closed, drops it from the set and closes the
// connection. Safe to call more than once.
func (b *Broadcaster) removeConsumer(c *consumer, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		b.consumersMu.Lock()
		delete(b.consumers, c.id)
		count := len(b.consumers)
		b.consumersMu.Unlock()

		_ = c.conn.Close()

		b.recordConsumers(count)
		if b.metrics != nil {
			b.metrics.disconnections.WithLabelValues(reason).Inc()
		}
		b.logger.Info("Consumer disconnected", "consumer", c.id, "reason", reason,
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond).String(), "consumers", count)
	})
}

// Broadcast queues payload as a text frame for every open consumer and
// returns how many consumers it was queued for. It never blocks: a consumer
// whose queue is full misses this frame.
func (b *Broadcaster) Broadcast(_ context.Context, payload []byte) int {
	b.consumersMu.RLock()
	targets := make([]*consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		targets = append(targets, c)
	}
	b.consumersMu.RUnlock()

	queued := 0
	for _, c := range targets {
		if c.closed.Load() {
			continue
		}
		select {
		case c.send <- payload:
			queued++
		default:
			b.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.framesDropped.Inc()
			}
			b.logger.Debug("Consumer queue full, dropping frame", "consumer", c.id)
		}
	}
	return queued
}

// ConsumerCount returns the number of open consumers
func (b *Broadcaster) ConsumerCount() int {
	b.consumersMu.RLock()
	defer b.consumersMu.RUnlock()

	n := 0
	for _, c := range b.consumers {
		if !c.closed.Load() {
			n++
		}
	}
	return n
}

// maintainConsumers pings every consumer each PingInterval.
func (b *Broadcaster) maintainConsumers(ctx context.Context, shutdown <-chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			b.pingConsumers()
		}
	}
}

func (b *Broadcaster) pingConsumers() {
	b.consumersMu.RLock()
	targets := make([]*consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		if !c.closed.Load() {
			targets = append(targets, c)
		}
	}
	b.consumersMu.RUnlock()

	for _, c := range targets {
		// WriteControl may run concurrently with the write pump.
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout)); err != nil {
			b.errorCount.Add(1)
			b.removeConsumer(c, "ping_failed")
		}
	}
}
