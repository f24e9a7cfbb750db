package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
)

// MetricsRegistry owns the Prometheus registry behind /metrics. Components
// register their collectors under a service name; a second registration of
// the same service/metric pair is rejected.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	owned map[string]struct{} // "service.metric"
}

// NewMetricsRegistry returns a registry holding the core bridge metrics plus
// the Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		owned: make(map[string]struct{}),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry { return r.prom }

// CoreMetrics returns the metrics shared by every component
func (r *MetricsRegistry) CoreMetrics() *Metrics { return r.core }

// RegisterCounter registers a counter for a service
func (r *MetricsRegistry) RegisterCounter(service, name string, c prometheus.Counter) error {
	return r.register(service, name, "RegisterCounter", c)
}

// RegisterGauge registers a gauge for a service
func (r *MetricsRegistry) RegisterGauge(service, name string, g prometheus.Gauge) error {
	return r.register(service, name, "RegisterGauge", g)
}

// RegisterCounterVec registers a labelled counter for a service
func (r *MetricsRegistry) RegisterCounterVec(service, name string, v *prometheus.CounterVec) error {
	return r.register(service, name, "RegisterCounterVec", v)
}

// RegisterHistogram registers a histogram for a service
func (r *MetricsRegistry) RegisterHistogram(service, name string, h prometheus.Histogram) error {
	return r.register(service, name, "RegisterHistogram", h)
}

// RegisterHistogramVec registers a labelled histogram for a service
func (r *MetricsRegistry) RegisterHistogramVec(service, name string, v *prometheus.HistogramVec) error {
	return r.register(service, name, "RegisterHistogramVec", v)
}

// register rejects duplicates as invalid. Any other Prometheus failure is
// fatal since it means a malformed collector.
func (r *MetricsRegistry) register(service, name, method string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := service + "." + name
	if _, dup := r.owned[key]; dup {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered for %s", name, service),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prom.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register with prometheus")
	}
	r.owned[key] = struct{}{}
	return nil
}
