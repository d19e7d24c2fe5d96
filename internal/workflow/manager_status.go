package workflow

import (
	"context"
	"time"

	"postforge/internal/pipeline"
	"postforge/internal/stage"
)

// LaneStatus is the runtime view of one stage lane.
type LaneStatus struct {
	Stage        string        `json:"stage"`
	Interval     time.Duration `json:"interval"`
	Passes       int           `json:"passes"`
	Committed    int           `json:"committed"`
	Skipped      int           `json:"skipped"`
	Quarantined  int           `json:"quarantined"`
	Deferred     int           `json:"deferred"`
	LastPass     time.Time     `json:"last_pass,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Lease        string        `json:"lease"`
	LeaseHeld    bool          `json:"lease_held"`
	Standby      bool          `json:"standby"`
	Health       stage.Health  `json:"health"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running bool         `json:"running"`
	Lanes   []LaneStatus `json:"lanes"`
}

// Status returns the latest workflow information. Handler health checks run
// on every call.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()

	summary := StatusSummary{Running: running, Lanes: make([]LaneStatus, 0, len(m.lanes))}
	for _, lane := range m.lanes {
		status := lane.snapshot()
		status.Health = lane.stage.Handler.HealthCheck(ctx)
		summary.Lanes = append(summary.Lanes, status)
	}
	return summary
}

// Stages returns the managed stage definitions in pipeline order.
func (m *Manager) Stages() []*pipeline.Stage {
	out := make([]*pipeline.Stage, 0, len(m.lanes))
	for _, lane := range m.lanes {
		out = append(out, lane.stage)
	}
	return out
}

func (l *laneState) snapshot() LaneStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := LaneStatus{
		Stage:        l.stage.ID,
		Interval:     l.stage.Interval,
		Passes:       l.passes,
		Committed:    l.committed,
		Skipped:      l.skipped,
		Quarantined:  l.quarantined,
		Deferred:     l.deferred,
		LastPass:     l.lastPass,
		LastDuration: l.lastStats.Duration,
		Lease:        l.lease.Name(),
		LeaseHeld:    l.leaseHeld,
		Standby:      l.standby,
	}
	if l.lastErr != nil {
		status.LastError = l.lastErr.Error()
	}
	return status
}
