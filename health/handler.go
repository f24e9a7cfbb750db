package health

import (
	"encoding/json"
	"net/http"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
)

// DefaultPath is where the bridge serves its health report.
const DefaultPath = "/healthz"

// Handler serves the aggregated health of components as JSON. Unhealthy
// aggregates answer 503 so load balancers and orchestrators can act on the code.
func Handler(systemName string, m *Monitor, components func() []component.Discoverable) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if components != nil {
			m.Refresh(components())
		}
		status := m.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
