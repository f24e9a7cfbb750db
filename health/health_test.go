package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

type stubComponent struct {
	name   string
	health component.HealthStatus
}

func (s stubComponent) Meta() component.Metadata {
	return component.Metadata{Name: s.name}
}

func (s stubComponent) Health() component.HealthStatus {
	return s.health
}

func (s stubComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		subs   []Status
		expect string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("bridge", tt.subs)
			assert.Equal(t, tt.expect, got.Status)
			assert.Equal(t, tt.expect == StatusHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromComponentHealth_Sanitizes(t *testing.T) {
	st := FromComponentHealth("osc-sender", component.HealthStatus{
		Healthy:    false,
		ErrorCount: 3,
		LastError:  "write udp 192.168.1.118:50001: token=abc123 refused",
		Uptime:     time.Minute,
	})

	assert.True(t, st.IsUnhealthy())
	assert.NotContains(t, st.Message, "192.168.1.118")
	assert.NotContains(t, st.Message, "abc123")
	require.NotNil(t, st.Metrics)
	assert.Equal(t, 3, st.Metrics.ErrorCount)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", sanitizeErrorMessage(""))
	assert.Equal(t, "open [PATH]: permission denied", sanitizeErrorMessage("open /var/lib/gyro.jsonl: permission denied"))
	assert.Equal(t, "dial [URL] failed", sanitizeErrorMessage("dial nats://broker:4222 failed"))
}

func TestFromComponentHealth_States(t *testing.T) {
	assert.True(t, FromComponentHealth("a", component.HealthStatus{Healthy: true}).IsHealthy())
	assert.True(t, FromComponentHealth("a", component.HealthStatus{Healthy: true, Degraded: true}).IsDegraded())
	assert.True(t, FromComponentHealth("a", component.HealthStatus{Degraded: true}).IsUnhealthy())
}

func TestMonitor_RefreshAndAggregate(t *testing.T) {
	m := NewMonitor(nil)
	m.Refresh([]component.Discoverable{
		stubComponent{name: "sender", health: component.HealthStatus{Healthy: false, LastError: "not ready"}},
		stubComponent{name: "listener", health: component.HealthStatus{Healthy: true}},
	})

	got, ok := m.Get("sender")
	require.True(t, ok)
	assert.Equal(t, "not ready", got.Message)

	agg := m.AggregateHealth("bridge")
	assert.True(t, agg.IsUnhealthy())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "listener", agg.SubStatuses[0].Component)

	// The next refresh replaces the snapshot.
	m.Refresh([]component.Discoverable{
		stubComponent{name: "listener", health: component.HealthStatus{Healthy: true}},
	})
	_, ok = m.Get("sender")
	assert.False(t, ok)
	assert.True(t, m.AggregateHealth("bridge").IsHealthy())
}

func TestHandler(t *testing.T) {
	healthy, degraded := true, false
	components := func() []component.Discoverable {
		return []component.Discoverable{
			stubComponent{name: "broadcaster", health: component.HealthStatus{Healthy: healthy, Degraded: degraded}},
		}
	}
	h := Handler("hapticbridge", NewMonitor(nil), components)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hapticbridge", body.Component)
	assert.True(t, body.Healthy)

	degraded = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusDegraded, body.Status)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_RecordsHealthGauge(t *testing.T) {
	core := metric.NewMetrics()
	m := NewMonitor(core)
	m.Refresh([]component.Discoverable{
		stubComponent{name: "sender", health: component.HealthStatus{Healthy: true, Degraded: true}},
		stubComponent{name: "listener", health: component.HealthStatus{Healthy: false}},
		stubComponent{name: "store", health: component.HealthStatus{Healthy: true}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("sender")))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("listener")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("store")))
}
