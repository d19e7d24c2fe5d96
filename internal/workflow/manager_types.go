package workflow

import (
	"log/slog"
	"sync"
	"time"

	"postforge/internal/lease"
	"postforge/internal/pipeline"
)

type laneState struct {
	stage  *pipeline.Stage
	lease  lease.Lease
	logger *slog.Logger

	mu          sync.Mutex
	passes      int
	committed   int
	skipped     int
	quarantined int
	deferred    int
	lastPass    time.Time
	lastStats   pipeline.PassStats
	lastErr     error
	failing     bool
	leaseHeld   bool
	leaseKnown  bool
	standby     bool
}

func (l *laneState) recordPass(stats pipeline.PassStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.passes++
	l.committed += stats.Committed
	l.skipped += stats.Skipped
	l.quarantined += stats.Quarantined
	l.deferred += stats.Deferred
	l.lastPass = stats.Started
	l.lastStats = stats
	l.lastErr = nil
	l.failing = false
}

// recordFailure reports whether this failure starts a new streak.
func (l *laneState) recordFailure(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = err
	first := !l.failing
	l.failing = true
	return first
}

// setLease reports whether the lease state changed.
func (l *laneState) setLease(held bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := !l.leaseKnown || l.leaseHeld != held
	l.leaseKnown = true
	l.leaseHeld = held
	l.standby = !held
	return changed
}
