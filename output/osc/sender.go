// Package osc provides the outbound datagram sender for the bridge
package osc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
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

// Config holds the device endpoint and the local socket to send from
type Config struct {
	RemoteHost string `json:"remote_host" yaml:"remote_host" toml:"remote_host"`
	RemotePort int    `json:"remote_port" yaml:"remote_port" toml:"remote_port"`
	LocalBind  string `json:"local_bind" yaml:"local_bind" toml:"local_bind"`
	LocalPort  int    `json:"local_port" yaml:"local_port" toml:"local_port"`
}

// DefaultConfig targets the prototype device at 192.168.1.118:50001
func DefaultConfig() Config {
	return Config{
		RemoteHost: "192.168.1.118",
		RemotePort: 50001,
		LocalBind:  "0.0.0.0",
		LocalPort:  0,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.RemoteHost == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "remote host is required")
	}
	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: remote port %d", errors.ErrInvalidConfig, c.RemotePort),
			"Config", "Validate", "remote port")
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: local port %d", errors.ErrInvalidConfig, c.LocalPort),
			"Config", "Validate", "local port")
	}
	return nil
}

// SenderDeps holds runtime dependencies for the sender
type SenderDeps struct {
	Name            string
	Config          Config
	Readiness       *Readiness              // nil creates a new one
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil
	RetryConfig     *retry.Config           // nil uses retry.Quick()
}

type senderMetrics struct {
	messagesSent *prometheus.CounterVec
	sendErrors   prometheus.Counter
	notReady     prometheus.Counter
}

func newSenderMetrics(registry *metric.MetricsRegistry, service string) *senderMetrics {
	if registry == nil {
		return nil
	}

	m := &senderMetrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "outbound",
			Name: "messages_sent_total", Help: "Messages sent to the device, by address",
		}, []string{"address"}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "outbound",
			Name: "send_errors_total", Help: "Encode or write failures",
		}),
		notReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "outbound",
			Name: "not_ready_total", Help: "Sends refused before the transport opened",
		}),
	}

	_ = registry.RegisterCounterVec(service, "messages_sent", m.messagesSent)
	_ = registry.RegisterCounter(service, "send_errors", m.sendErrors)
	_ = registry.RegisterCounter(service, "not_ready", m.notReady)
	return m
}

// Sender writes encoded messages to the device over one UDP socket
type Sender struct {
	name        string
	cfg         Config
	readiness   *Readiness
	logger      *slog.Logger
	retryConfig retry.Config

	openMu sync.Mutex // serializes Open without blocking readers of conn
	mu     sync.RWMutex
	conn   *net.UDPConn
	remote *net.UDPAddr

	startTime    time.Time
	sent         atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Value // time.Time

	metrics *senderMetrics
}

var (
	_ component.Discoverable       = (*Sender)(nil)
	_ component.LifecycleComponent = (*Sender)(nil)
)

// NewSender creates a sender. It refuses to send until Open succeeds.
func NewSender(deps SenderDeps) *Sender {
	name := deps.Name
	if name == "" {
		name = "osc-sender"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readiness := deps.Readiness
	if readiness == nil {
		readiness = NewReadiness()
	}
	retryCfg := retry.Quick()
	if deps.RetryConfig != nil {
		retryCfg = *deps.RetryConfig
	}

	s := &Sender{
		name:        name,
		cfg:         deps.Config,
		readiness:   readiness,
		logger:      logger.With("component", name),
		retryConfig: retryCfg,
		startTime:   time.Now(),
		metrics:     newSenderMetrics(deps.MetricsRegistry, name),
	}
	s.lastError.Store("")
	s.lastActivity.Store(time.Time{})
	return s
}

// Readiness returns the signal flipped when Open succeeds
func (s *Sender) Readiness() *Readiness { return s.readiness }

// IsReady reports whether the transport is open
func (s *Sender) IsReady() bool { return s.readiness.IsReady() }

// Open resolves the device address, binds the local socket and marks the
// transport ready. Calling Open again after success is a no-op. Health and
// Send stay responsive while the bind is being retried.
func (s *Sender) Open(ctx context.Context) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.RLock()
	open := s.conn != nil
	s.mu.RUnlock()
	if open {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	var (
		conn   *net.UDPConn
		remote *net.UDPAddr
	)
	err := retry.Do(ctx, s.retryConfig, func() error {
		var err error
		conn, remote, err = s.bindSocket()
		return err
	})
	if err != nil {
		return errors.WrapFatal(err, s.name, "Open", "socket binding")
	}

	s.mu.Lock()
	s.conn, s.remote = conn, remote
	s.mu.Unlock()

	s.readiness.MarkReady()
	s.logger.Info("Outbound transport ready",
		"local", conn.LocalAddr().String(), "remote", remote.String())
	return nil
}

// bindSocket resolves both addresses and binds the local socket
func (s *Sender) bindSocket() (*net.UDPConn, *net.UDPAddr, error) {
	remote, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(s.cfg.RemoteHost, strconv.Itoa(s.cfg.RemotePort)))
	if err != nil {
		return nil, nil, retry.NonRetryable(fmt.Errorf("resolve remote %s:%d: %w", s.cfg.RemoteHost, s.cfg.RemotePort, err))
	}
	local, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(s.cfg.LocalBind, strconv.Itoa(s.cfg.LocalPort)))
	if err != nil {
		return nil, nil, retry.NonRetryable(fmt.Errorf("resolve local %s:%d: %w", s.cfg.LocalBind, s.cfg.LocalPort, err))
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, nil, fmt.Errorf("bind udp %s: %w", local, err)
	}
	return conn, remote, nil
}

// Send encodes msg and writes it as one datagram. Before the transport is
// open it logs and returns a transient ErrTransportNotReady without
// touching the network. There is no acknowledgement.
func (s *Sender) Send(_ context.Context, msg message.ProtocolMessage) error {
	if !s.readiness.IsReady() {
		if s.metrics != nil {
			s.metrics.notReady.Inc()
		}
		s.logger.Error("Outbound transport not ready, message not sent", "address", msg.Address)
		return errors.WrapTransient(errors.ErrTransportNotReady, s.name, "Send", "check readiness")
	}

	data, err := message.Encode(msg)
	if err != nil {
		return s.fail(err, "encode message")
	}

	s.mu.RLock()
	conn, remote := s.conn, s.remote
	s.mu.RUnlock()
	if conn == nil {
		return s.fail(errors.ErrTransportNotReady, "socket closed")
	}

	n, err := conn.WriteToUDP(data, remote)
	if err != nil {
		return s.fail(err, "write datagram")
	}

	s.sent.Add(1)
	s.bytesSent.Add(int64(n))
	s.lastActivity.Store(time.Now())
	if s.metrics != nil {
		s.metrics.messagesSent.WithLabelValues(msg.Address).Inc()
	}
	s.logger.Debug("Sent message", "address", msg.Address, "bytes", n)
	return nil
}

func (s *Sender) fail(err error, action string) error {
	s.errorCount.Add(1)
	s.lastError.Store(err.Error())
	if s.metrics != nil {
		s.metrics.sendErrors.Inc()
	}
	return errors.WrapTransient(err, s.name, "Send", action)
}

// LocalAddr returns the bound local address, or nil before Open
func (s *Sender) LocalAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. Readiness stays set; later sends fail with a
// transient error instead of being refused.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return errors.WrapTransient(err, s.name, "Close", "close socket")
	}
	return nil
}

// Initialize validates configuration
func (s *Sender) Initialize() error { return s.cfg.Validate() }

// Start opens the transport
func (s *Sender) Start(ctx context.Context) error { return s.Open(ctx) }

// Stop closes the transport
func (s *Sender) Stop(time.Duration) error { return s.Close() }

// Meta returns the component metadata
func (s *Sender) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "output",
		Description: fmt.Sprintf("Datagram sender to %s:%d", s.cfg.RemoteHost, s.cfg.RemotePort),
		Version:     "1.0.0",
	}
}

// Health is degraded until the transport opens, healthy while the socket is
// held and unhealthy once it has been closed.
func (s *Sender) Health() component.HealthStatus {
	s.mu.RLock()
	open := s.conn != nil
	s.mu.RUnlock()
	ready := s.readiness.IsReady()

	lastErr, _ := s.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    open || !ready,
		Degraded:   !ready,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the send rate
func (s *Sender) DataFlow() component.FlowMetrics {
	uptime := time.Since(s.startTime)
	sent := s.sent.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var errorRate float64
	if total := sent + s.errorCount.Load(); total > 0 {
		errorRate = float64(s.errorCount.Load()) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(sent, uptime),
		BytesPerSecond:    component.Rate(s.bytesSent.Load(), uptime),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
