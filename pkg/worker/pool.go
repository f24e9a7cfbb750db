// Package worker provides a generic worker pool that decouples producers from
// slower consumers.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

const defaultQueueSize = 256

// Pool runs a processor over items of type T on a fixed set of goroutines.
// With one worker, items are processed in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	onError   func(T, error)

	queue chan T
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	counts  poolCounts
	metrics *poolMetrics

	registry *metric.MetricsRegistry
	prefix   string
}

type poolCounts struct {
	submitted, processed, failed, dropped atomic.Int64
}

type poolMetrics struct {
	depth    prometheus.Gauge
	items    *prometheus.CounterVec // submitted, dropped, failed
	duration prometheus.Histogram
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports queue depth, item outcomes and processing time
// under prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// WithErrorHandler is called on the worker goroutine with each item whose
// processing failed.
func WithErrorHandler[T any](fn func(item T, err error)) Option[T] {
	return func(p *Pool[T]) { p.onError = fn }
}

// NewPool builds a pool. workers <= 0 means one worker; queueSize <= 0 means
// 256. A nil processor panics with ErrNilProcessor.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	p := &Pool[T]{
		workers:   max(workers, 1),
		queueSize: queueSize,
		process:   processor,
	}
	if p.queueSize <= 0 {
		p.queueSize = defaultQueueSize
	}
	p.queue = make(chan T, p.queueSize)

	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.metrics = newPoolMetrics(p.registry, p.prefix)
	}
	return p
}

// newPoolMetrics returns nil when any collector fails to register.
func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items waiting in the queue",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_items_total",
			Help: "Queue items by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_processing_seconds",
			Help:    "Time spent processing one item",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	const service = "worker"
	if registry.RegisterGauge(service, prefix+"_queue_depth", m.depth) != nil ||
		registry.RegisterCounterVec(service, prefix+"_items_total", m.items) != nil ||
		registry.RegisterHistogram(service, prefix+"_processing_seconds", m.duration) != nil {
		return nil
	}
	return m
}

func (m *poolMetrics) observe(outcome string, depth int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(outcome).Inc()
	m.depth.Set(float64(depth))
}

// Submit enqueues item without blocking
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return ErrPoolNotStarted
	case p.stopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		p.counts.submitted.Add(1)
		p.metrics.observe("submitted", len(p.queue))
		return nil
	default:
		p.counts.dropped.Add(1)
		p.metrics.observe("dropped", len(p.queue))
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is cancelled or the queue
// has been drained after Stop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.started = true

	p.wg.Add(p.workers)
	for range p.workers {
		go p.run(ctx)
	}
	return nil
}

// Stop refuses further submissions and waits up to timeout for the queued
// items to be processed. Stopping a pool that never started is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.queue)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// PoolStats is a point-in-time view of the pool's counters
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.counts.submitted.Load(),
		Processed:  p.counts.processed.Load(),
		Failed:     p.counts.failed.Load(),
		Dropped:    p.counts.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, item)
		}
	}
}

func (p *Pool[T]) handle(ctx context.Context, item T) {
	start := time.Now()
	err := p.process(ctx, item)
	p.counts.processed.Add(1)

	if p.metrics != nil {
		p.metrics.duration.Observe(time.Since(start).Seconds())
	}
	if err == nil {
		p.metrics.observe("processed", len(p.queue))
		return
	}

	p.counts.failed.Add(1)
	p.metrics.observe("failed", len(p.queue))
	if p.onError != nil {
		p.onError(item, err)
	}
}
