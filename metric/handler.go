package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is where the bridge exposes metrics on its HTTP server.
const DefaultPath = "/metrics"

// Handler returns the Prometheus exposition handler for the registry. It is
// mounted on the consumer HTTP server rather than on a dedicated port.
func Handler(r *MetricsRegistry) http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
