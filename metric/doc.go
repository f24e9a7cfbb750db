// Package metric owns the bridge's Prometheus registry.
//
// A single MetricsRegistry is created at startup and handed to every
// component through its Deps struct. Components register their own
// collectors under a service name; a nil registry means the component runs
// without metrics. Core metrics shared across components (messages received,
// routing outcomes, error taxonomy counts, consumer gauge, NATS status) are
// available through CoreMetrics.
//
// Handler exposes the registry for scraping and is mounted at DefaultPath on
// the consumer HTTP server.
package metric
