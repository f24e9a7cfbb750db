// Package health reports the bridge's component health
package health

import (
	"regexp"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the served health of one component or of the whole bridge
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the counters copied from a component's HealthStatus
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports a healthy status
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded reports a degraded status
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy reports an unhealthy status
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

func newStatus(name, state, message string) Status {
	return Status{
		Component: name,
		Healthy:   state == StatusHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy builds a healthy status
func NewHealthy(name, message string) Status { return newStatus(name, StatusHealthy, message) }

// NewDegraded builds a degraded status
func NewDegraded(name, message string) Status { return newStatus(name, StatusDegraded, message) }

// NewUnhealthy builds an unhealthy status
func NewUnhealthy(name, message string) Status { return newStatus(name, StatusUnhealthy, message) }

// FromComponentHealth converts a component's self-report. Unhealthy beats
// degraded. The last error replaces the message after sanitizing.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var st Status
	switch {
	case !ch.Healthy:
		st = NewUnhealthy(name, "component unhealthy")
	case ch.Degraded:
		st = NewDegraded(name, "component degraded")
	default:
		st = NewHealthy(name, "component healthy")
	}
	if ch.LastError != "" {
		st.Message = sanitizeErrorMessage(ch.LastError)
	}
	st.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return st
}

// Aggregate folds sub-statuses into one: any unhealthy makes it unhealthy,
// otherwise any degraded makes it degraded.
func Aggregate(name string, subs []Status) Status {
	worst := StatusHealthy
	for _, sub := range subs {
		if sub.IsUnhealthy() {
			worst = StatusUnhealthy
			break
		}
		if sub.IsDegraded() {
			worst = StatusDegraded
		}
	}

	var st Status
	switch {
	case len(subs) == 0:
		st = NewHealthy(name, "no components registered")
	case worst == StatusUnhealthy:
		st = NewUnhealthy(name, "one or more components are unhealthy")
	case worst == StatusDegraded:
		st = NewDegraded(name, "one or more components are degraded")
	default:
		st = NewHealthy(name, "all components healthy")
	}
	if len(subs) > 0 {
		st.SubStatuses = append([]Status(nil), subs...)
	}
	return st
}

var (
	urlPattern        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	pathPattern       = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	addrPattern       = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?\b`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// sanitizeErrorMessage strips URLs, device addresses, file paths and
// credentials. The health endpoint shares the unauthenticated consumer port.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	s := urlPattern.ReplaceAllString(err, "[URL]")
	s = addrPattern.ReplaceAllString(s, "[ADDR]")
	s = pathPattern.ReplaceAllString(s, "[PATH]")
	return credentialPattern.ReplaceAllString(s, "[REDACTED]")
}
