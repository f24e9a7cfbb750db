// Package osc provides the inbound datagram listener for the bridge
package osc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/pkg/retry"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// Handler receives each decoded message. It is called synchronously from
// the read loop and must not block.
type Handler func(ctx context.Context, msg message.ProtocolMessage)

// Config holds the listener's bind address
type Config struct {
	Bind string `json:"bind" yaml:"bind" toml:"bind"`
	Port int    `json:"port" yaml:"port" toml:"port"`
}

// DefaultConfig listens on all interfaces, port 50002
func DefaultConfig() Config {
	return Config{Bind: "0.0.0.0", Port: 50002}
}

// ListenerDeps holds runtime dependencies for the listener
type ListenerDeps struct {
	Name            string
	Config          Config
	Handler         Handler
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil
	RetryConfig     *retry.Config           // nil uses retry.Quick()
}

type listenerMetrics struct {
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	messagesDecoded   *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	socketErrors      prometheus.Counter
}

func newListenerMetrics(registry *metric.MetricsRegistry, service string) *listenerMetrics {
	if registry == nil {
		return nil
	}

	m := &listenerMetrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "inbound",
			Name: "datagrams_received_total", Help: "Total datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "inbound",
			Name: "bytes_received_total", Help: "Total bytes received",
		}),
		messagesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "inbound",
			Name: "messages_decoded_total", Help: "Messages decoded, by address",
		}, []string{"address"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "inbound",
			Name: "decode_errors_total", Help: "Datagrams that failed to decode",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "inbound",
			Name: "socket_errors_total", Help: "Socket read errors encountered",
		}),
	}

	_ = registry.RegisterCounter(service, "datagrams_received", m.datagramsReceived)
	_ = registry.RegisterCounter(service, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounterVec(service, "messages_decoded", m.messagesDecoded)
	_ = registry.RegisterCounter(service, "decode_errors", m.decodeErrors)
	_ = registry.RegisterCounter(service, "socket_errors", m.socketErrors)
	return m
}

// Listener receives datagrams from the device, decodes them and hands each
// message to its Handler in arrival order.
type Listener struct {
	name        string
	cfg         Config
	handler     Handler
	logger      *slog.Logger
	retryConfig retry.Config

	mu        sync.RWMutex
	conn      *net.UDPConn
	running   atomic.Bool
	shutdown  chan struct{}
	done      chan struct{}
	startTime time.Time

	datagrams    atomic.Int64
	bytes        atomic.Int64
	decodeErrors atomic.Int64
	lastActivity atomic.Value // time.Time
	lastError    atomic.Value // string

	metrics *listenerMetrics
}

var (
	_ component.Discoverable       = (*Listener)(nil)
	_ component.LifecycleComponent = (*Listener)(nil)
)

// NewListener creates a listener. Call Initialize and Start to bind it.
func NewListener(deps ListenerDeps) *Listener {
	name := deps.Name
	if name == "" {
		name = "osc-listener"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name)

	retryCfg := retry.Quick()
	if deps.RetryConfig != nil {
		retryCfg = *deps.RetryConfig
	}

	l := &Listener{
		name:        name,
		cfg:         deps.Config,
		handler:     deps.Handler,
		logger:      logger,
		retryConfig: retryCfg,
		startTime:   time.Now(),
		metrics:     newListenerMetrics(deps.MetricsRegistry, name),
	}
	l.lastActivity.Store(time.Time{})
	l.lastError.Store("")
	return l
}

// Meta returns the component metadata
func (l *Listener) Meta() component.Metadata {
	return component.Metadata{
		Name:        l.name,
		Type:        "input",
		Description: fmt.Sprintf("Datagram listener on %s:%d", l.cfg.Bind, l.cfg.Port),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the socket is bound and the read loop runs
func (l *Listener) Health() component.HealthStatus {
	l.mu.RLock()
	bound := l.conn != nil
	l.mu.RUnlock()

	lastErr, _ := l.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    l.running.Load() && bound,
		LastCheck:  time.Now(),
		ErrorCount: int(l.decodeErrors.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(l.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (l *Listener) DataFlow() component.FlowMetrics {
	datagrams := l.datagrams.Load()
	uptime := time.Since(l.startTime)
	lastActivity, _ := l.lastActivity.Load().(time.Time)

	var errorRate float64
	if datagrams > 0 {
		errorRate = float64(l.decodeErrors.Load()) / float64(datagrams)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(datagrams, uptime),
		BytesPerSecond:    component.Rate(l.bytes.Load(), uptime),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration. Port 0 asks the OS for a free port.
func (l *Listener) Initialize() error {
	if l.cfg.Port < 0 || l.cfg.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", l.cfg.Port),
			l.name, "Initialize", "port validation")
	}
	if l.handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler"),
			l.name, "Initialize", "handler validation")
	}
	return nil
}

// Start binds the socket and launches the read loop. A bind failure after
// retries is returned and is fatal for the process.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, l.retryConfig, l.bindSocket); err != nil {
		return errors.WrapFatal(err, l.name, "Start", "socket binding")
	}

	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})
	l.startTime = time.Now()
	l.running.Store(true)

	l.logger.Info("Listening for datagrams", "addr", l.conn.LocalAddr().String())

	go func(conn *net.UDPConn, shutdown, done chan struct{}) {
		defer close(done)
		l.readLoop(ctx, conn, shutdown)
	}(l.conn, l.shutdown, l.done)

	return nil
}

// bindSocket creates and binds the UDP socket. Caller holds l.mu.
func (l *Listener) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.cfg.Bind, fmt.Sprint(l.cfg.Port)))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("resolve %s:%d: %w", l.cfg.Bind, l.cfg.Port, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on udp %s: %w", addr, err)
	}

	l.conn = conn
	return nil
}

// Addr returns the bound local address, or nil before Start.
func (l *Listener) Addr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Stop closes the socket and waits up to timeout for the read loop to exit.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}

	l.mu.Lock()
	close(l.shutdown)
	if l.conn != nil {
		_ = l.conn.Close()
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			l.name, "Stop", "graceful shutdown")
	}

	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	return nil
}

func (l *Listener) readLoop(ctx context.Context, conn *net.UDPConn, shutdown <-chan struct{}) {
	buf := make([]byte, maxDatagram)

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		// Short deadline so shutdown is noticed without waiting for traffic.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-shutdown:
				return
			default:
			}

			l.lastError.Store(err.Error())
			if l.metrics != nil {
				l.metrics.socketErrors.Inc()
			}
			if !errors.IsTransient(err) {
				l.logger.Error("Socket read failed, stopping read loop", "error", err)
				return
			}
			continue
		}

		l.handleDatagram(ctx, buf[:n], from)
	}
}

func (l *Listener) handleDatagram(ctx context.Context, data []byte, from *net.UDPAddr) {
	now := time.Now()
	l.datagrams.Add(1)
	l.bytes.Add(int64(len(data)))
	l.lastActivity.Store(now)
	if l.metrics != nil {
		l.metrics.datagramsReceived.Inc()
		l.metrics.bytesReceived.Add(float64(len(data)))
	}

	msgs, err := message.Decode(data)
	if err != nil {
		l.decodeErrors.Add(1)
		l.lastError.Store(err.Error())
		if l.metrics != nil {
			l.metrics.decodeErrors.Inc()
		}
		l.logger.Warn("Dropping undecodable datagram", "from", from.String(), "bytes", len(data), "error", err)
		return
	}

	for _, msg := range msgs {
		if l.metrics != nil {
			l.metrics.messagesDecoded.WithLabelValues(msg.Address).Inc()
		}
		l.handler(ctx, msg)
	}
}
