// Package telemetry persists /gyro messages as JSON lines
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/pkg/worker"
)

// Sink receives one serialized telemetry line per record, without the
// trailing newline.
type Sink interface {
	Append(ctx context.Context, line []byte) error
	Name() string
}

// RecorderDeps holds runtime dependencies for the recorder
type RecorderDeps struct {
	Name            string
	Address         string // address to record, defaults to /gyro
	Sinks           []Sink
	QueueSize       int                     // lines waiting for the sinks, defaults to 256
	Now             func() time.Time        // nil uses time.Now
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil
}

type recorderMetrics struct {
	records    prometheus.Counter
	dropped    prometheus.Counter
	sinkErrors *prometheus.CounterVec
}

func newRecorderMetrics(registry *metric.MetricsRegistry, service string) *recorderMetrics {
	if registry == nil {
		return nil
	}
	m := &recorderMetrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "telemetry",
			Name: "records_total", Help: "Telemetry records built",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "telemetry",
			Name: "dropped_total", Help: "Records dropped before reaching the sinks",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hapticbridge", Subsystem: "telemetry",
			Name: "sink_errors_total", Help: "Failed appends, by sink",
		}, []string{"sink"}),
	}
	_ = registry.RegisterCounter(service, "records", m.records)
	_ = registry.RegisterCounter(service, "dropped", m.dropped)
	_ = registry.RegisterCounterVec(service, "sink_errors", m.sinkErrors)
	return m
}

// Recorder turns matching messages into TelemetryRecords and appends them
// to every sink. Serialized lines are queued and written by a single worker,
// so a slow sink never holds up the caller.
type Recorder struct {
	name    string
	address string
	sinks   []Sink
	now     func() time.Time
	logger  *slog.Logger
	metrics *recorderMetrics
	core    *metric.Metrics
	pool    *worker.Pool[[]byte]

	running      atomic.Bool
	startTime    time.Time
	records      atomic.Int64
	dropped      atomic.Int64
	sinkErrors   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Value // time.Time
}

var (
	_ component.Discoverable       = (*Recorder)(nil)
	_ component.LifecycleComponent = (*Recorder)(nil)
)

// NewRecorder creates a recorder
func NewRecorder(deps RecorderDeps) *Recorder {
	name := deps.Name
	if name == "" {
		name = "telemetry-recorder"
	}
	address := deps.Address
	if address == "" {
		address = message.AddressGyro
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		name:      name,
		address:   address,
		sinks:     deps.Sinks,
		now:       now,
		logger:    logger.With("component", name),
		metrics:   newRecorderMetrics(deps.MetricsRegistry, name),
		startTime: time.Now(),
	}
	var opts []worker.Option[[]byte]
	if deps.MetricsRegistry != nil {
		r.core = deps.MetricsRegistry.CoreMetrics()
		opts = append(opts, worker.WithMetricsRegistry[[]byte](deps.MetricsRegistry, "hapticbridge_telemetry"))
	}
	r.pool = worker.NewPool(1, deps.QueueSize, r.write, opts...)

	r.lastError.Store("")
	r.lastActivity.Store(time.Time{})
	return r
}

// Address returns the message address this recorder persists
func (r *Recorder) Address() string { return r.address }

// Record queues msg for every sink when its address matches and is a no-op
// otherwise. Sink failures and a full queue are logged and counted, never
// returned. The only error is a record that cannot be serialized.
func (r *Recorder) Record(_ context.Context, msg message.ProtocolMessage) error {
	if msg.Address != r.address {
		return nil
	}

	rec := message.NewTelemetryRecord(msg, r.now())
	line, err := rec.Line()
	if err != nil {
		return errors.WrapInvalid(err, r.name, "Record", "marshal telemetry record")
	}

	r.records.Add(1)
	r.lastActivity.Store(time.Now())
	if r.metrics != nil {
		r.metrics.records.Inc()
	}

	if err := r.pool.Submit(line); err != nil {
		r.dropped.Add(1)
		r.lastError.Store(err.Error())
		if r.metrics != nil {
			r.metrics.dropped.Inc()
		}
		if r.core != nil {
			r.core.RecordError(r.name, "persistence")
		}
		r.logger.Warn("Telemetry record dropped",
			"error", fmt.Errorf("%w: %v", errors.ErrPersistence, err))
	}
	return nil
}

// write runs on the recorder's worker and appends line to every sink
func (r *Recorder) write(ctx context.Context, line []byte) error {
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, line); err != nil {
			r.sinkErrors.Add(1)
			r.lastError.Store(err.Error())
			if r.metrics != nil {
				r.metrics.sinkErrors.WithLabelValues(sink.Name()).Inc()
			}
			if r.core != nil {
				r.core.RecordError(r.name, "persistence")
			}
			r.logger.Error("Telemetry append failed",
				"sink", sink.Name(),
				"error", fmt.Errorf("%w: %v", errors.ErrPersistence, err))
		}
	}
	return nil
}

// Initialize is a no-op
func (r *Recorder) Initialize() error { return nil }

// Start launches the sink writer
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return errors.Wrap(err, r.name, "Start", "start sink writer")
	}
	r.running.Store(true)
	r.startTime = time.Now()
	return nil
}

// Stop writes queued lines to the sinks, waiting up to timeout
func (r *Recorder) Stop(timeout time.Duration) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := r.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, r.name, "Stop", "drain sink writer")
	}
	return nil
}

// Meta returns the component metadata
func (r *Recorder) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "processor",
		Description: fmt.Sprintf("Records %s messages to %d sink(s)", r.address, len(r.sinks)),
		Version:     "1.0.0",
	}
}

// Health stays healthy through sink failures and drops; they surface in
// ErrorCount.
func (r *Recorder) Health() component.HealthStatus {
	lastErr, _ := r.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    true,
		LastCheck:  time.Now(),
		ErrorCount: int(r.sinkErrors.Load() + r.dropped.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow returns the record rate
func (r *Recorder) DataFlow() component.FlowMetrics {
	records := r.records.Load()
	lastActivity, _ := r.lastActivity.Load().(time.Time)

	var errorRate float64
	if attempts := records * int64(len(r.sinks)); attempts > 0 {
		errorRate = float64(r.sinkErrors.Load()) / float64(attempts)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(records, time.Since(r.startTime)),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
