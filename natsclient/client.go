// Package natsclient provides the NATS connection used to mirror telemetry.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = fmt.Errorf("nats: %w", errors.ErrNoConnection)
	ErrClosed       = stderrors.New("client closed")
)

// Client wraps one NATS connection and its JetStream context
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	status     atomic.Int32
	reconnects atomic.Int64
	published  atomic.Int64
	failures   atomic.Int64
	lastError  atomic.Value // string
	startTime  time.Time
	closeOnce  sync.Once

	// Connection options
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	retryConfig   retry.Config

	// Authentication, cleared on close
	username string
	password string
	token    string

	metrics *metric.MetricsRegistry
}

var _ component.Discoverable = (*Client)(nil)

// NewClient creates a client. It does not connect; call Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "url is required")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		name:          "nats-client",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		retryConfig:   retry.DefaultConfig(),
		startTime:     time.Now(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", c.name)
	c.lastError.Store("")
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	if c.metrics != nil {
		c.metrics.CoreMetrics().RecordNATSStatus(s == StatusConnected)
	}
}

// IsHealthy returns true while connected
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Connection returns the underlying connection, or nil before Connect
func (c *Client) Connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect dials the server, retrying with backoff until it succeeds, the
// retry budget is spent or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return ErrClosed
	}
	if c.IsHealthy() {
		return nil
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", redactURL(c.url))

	conn, err := retry.DoWithResult(ctx, c.retryConfig, func() (*nats.Conn, error) {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			c.failures.Add(1)
			c.lastError.Store(err.Error())
			c.logger.Debug("NATS connect attempt failed", "error", err)
		}
		return conn, err
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, c.name, "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, c.name, "Connect", "create jetstream context")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", redactURL(c.url))
	return nil
}

// Publish sends data on a core NATS subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.Connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		c.lastError.Store(err.Error())
		return errors.WrapTransient(err, c.name, "Publish", "publish message")
	}
	c.published.Add(1)
	return nil
}

// Subscribe delivers each message on subject to handler. Subscriptions are
// removed by Unsubscribe or on Close.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, c.name, "Subscribe", "subscribe")
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Unsubscribe removes every subscription on subject. Handlers already
// running are not interrupted.
func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	kept := c.subs[:0]
	for _, sub := range c.subs {
		if sub.Subject != subject {
			kept = append(kept, sub)
			continue
		}
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = errors.WrapTransient(err, c.name, "Unsubscribe", "unsubscribe "+subject)
		}
	}
	c.subs = kept
	return firstErr
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// EnsureStream creates the stream, or updates it when it already exists
func (c *Client) EnsureStream(ctx context.Context, name string, subjects ...string) (jetstream.Stream, error) {
	if !c.IsHealthy() {
		return nil, ErrNotConnected
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, c.name, "EnsureStream", fmt.Sprintf("create stream %s", name))
	}
	c.logger.Info("JetStream stream ready", "stream", name, "subjects", strings.Join(subjects, ","))
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the ack
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if !c.IsHealthy() {
		return ErrNotConnected
	}
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.lastError.Store(err.Error())
		return errors.WrapTransient(err, c.name, "PublishToStream", "publish to stream")
	}
	c.published.Add(1)
	return nil
}

// Close drains the connection and releases it. Later calls return nil.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		subs := c.subs
		c.conn, c.js, c.subs = nil, nil, nil
		c.username, c.password, c.token = "", "", ""
		c.mu.Unlock()

		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}

		if conn != nil {
			drainDone := make(chan error, 1)
			go func() { drainDone <- conn.Drain() }()

			select {
			case err := <-drainDone:
				if err != nil {
					closeErr = errors.Wrap(err, c.name, "Close", "drain connection")
				}
			case <-ctx.Done():
				closeErr = errors.WrapTransient(ctx.Err(), c.name, "Close", "drain cancelled")
			}
			conn.Close()
		}

		c.setStatus(StatusClosed)
		c.logger.Info("NATS client closed")
	})
	return closeErr
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.Status() == StatusClosed {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.lastError.Store(err.Error())
	}
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	if c.metrics != nil {
		c.metrics.CoreMetrics().RecordNATSReconnect()
	}
	c.logger.Info("NATS reconnected", "url", redactURL(conn.ConnectedUrl()))
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if c.Status() != StatusClosed {
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.lastError.Store(err.Error())
	c.logger.Error("NATS error", "error", err)
}

// Meta returns the component metadata
func (c *Client) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "output",
		Description: fmt.Sprintf("NATS connection to %s", redactURL(c.url)),
		Version:     "1.0.0",
	}
}

// Health reports healthy while connected
func (c *Client) Health() component.HealthStatus {
	lastErr, _ := c.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    c.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(c.failures.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow returns the publish rate
func (c *Client) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(c.published.Load(), time.Since(c.startTime)),
	}
}

// redactURL strips credentials from a NATS URL before it is logged
func redactURL(u string) string {
	at := strings.LastIndex(u, "@")
	if at < 0 {
		return u
	}
	scheme := ""
	if i := strings.Index(u, "://"); i >= 0 && i < at {
		scheme = u[:i+3]
	}
	return scheme + "[REDACTED]" + u[at:]
}
