package health

import (
	"sort"
	"sync"

	"github.com/salernoelia/haptic-hand-controller-prototype/component"
)

// Recorder receives each component's health on every Refresh.
// *metric.Metrics implements it.
type Recorder interface {
	RecordHealthStatus(service string, healthy bool)
}

// Monitor holds the statuses from the most recent Refresh
type Monitor struct {
	recorder Recorder
	mu       sync.RWMutex
	statuses []Status // sorted by component name
}

// NewMonitor creates an empty monitor. A non-nil recorder sees every
// refreshed status; degraded counts as healthy there.
func NewMonitor(recorder Recorder) *Monitor {
	return &Monitor{recorder: recorder}
}

// Refresh polls every component and replaces the previous snapshot, so
// components that are no longer listed drop out.
func (m *Monitor) Refresh(components []component.Discoverable) {
	statuses := make([]Status, 0, len(components))
	for _, c := range components {
		name := c.Meta().Name
		st := FromComponentHealth(name, c.Health())
		statuses = append(statuses, st)
		if m.recorder != nil {
			m.recorder.RecordHealthStatus(name, !st.IsUnhealthy())
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Component < statuses[j].Component })

	m.mu.Lock()
	m.statuses = statuses
	m.mu.Unlock()
}

// Get returns the last status recorded for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.statuses {
		if st.Component == name {
			return st, true
		}
	}
	return Status{}, false
}

// AggregateHealth folds the snapshot into one status named systemName
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Aggregate(systemName, m.statuses)
}
