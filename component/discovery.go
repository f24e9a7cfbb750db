// Package component defines the Discoverable interface and related types
package component

import "time"

// Discoverable is implemented by every bridge component so the process can
// report what is running and whether it is healthy.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata identifies a component on the health endpoint
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // input, processor or output
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a component's self-assessment at LastCheck. Degraded
// means the component runs but part of its function is unavailable.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	Degraded   bool          `json:"degraded,omitempty"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics are averages since the component started
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Rate returns count per second over elapsed, or zero when elapsed is not
// positive.
func Rate(count int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}
