package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"postforge/internal/lease"
	"postforge/internal/logging"
	"postforge/internal/pipeline"
)

// Start launches every lane in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, lane := range m.lanes {
		group.Go(func() error {
			m.runLane(groupCtx, lane)
			return nil
		})
	}
	m.cancel = cancel
	m.group = group
	m.running = true
	return nil
}

// Stop cancels the lanes, waits for in-flight passes, and releases leases.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, group := m.cancel, m.group
	m.running = false
	m.cancel = nil
	m.group = nil
	m.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// Run blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

// RunOnce runs one pass for each named stage (all lanes when ids is empty)
// in pipeline order. Lease refusals and failed passes are reported together.
func (m *Manager) RunOnce(ctx context.Context, ids ...string) ([]pipeline.PassStats, error) {
	lanes := m.lanes
	if len(ids) > 0 {
		lanes = make([]*laneState, 0, len(ids))
		for _, id := range ids {
			lane := m.lane(id)
			if lane == nil {
				return nil, fmt.Errorf("stage %q is not configured", id)
			}
			lanes = append(lanes, lane)
		}
	}

	var (
		results []pipeline.PassStats
		errs    []error
	)
	for _, lane := range lanes {
		stats, err := m.passOnce(ctx, lane)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", lane.stage.ID, err))
			continue
		}
		results = append(results, stats)
	}
	return results, errors.Join(errs...)
}

func (m *Manager) passOnce(ctx context.Context, lane *laneState) (pipeline.PassStats, error) {
	held, err := lane.lease.Acquire(ctx)
	if err != nil {
		return pipeline.PassStats{}, fmt.Errorf("lease: %w", err)
	}
	if !held {
		lane.setLease(false)
		return pipeline.PassStats{}, fmt.Errorf("lease %s held by another scheduler", lane.lease.Name())
	}
	lane.setLease(true)
	defer func() {
		if err := lane.lease.Release(context.WithoutCancel(ctx)); err != nil {
			lane.logger.Warn("lease release failed", logging.Error(err))
		}
		lane.setLease(false)
	}()

	passCtx, stop := lease.Keep(ctx, lane.lease)
	stats, err := m.engine.RunPass(passCtx, lane.stage)
	stop()
	if lost := context.Cause(passCtx); errors.Is(lost, lease.ErrLost) && ctx.Err() == nil {
		lane.recordFailure(lost)
		return stats, lost
	}
	if err != nil {
		lane.recordFailure(err)
		return stats, err
	}
	lane.recordPass(stats)
	return stats, nil
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	logger := lane.logger
	defer func() {
		if err := lane.lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("lease release failed", logging.Error(err))
		}
		lane.setLease(false)
	}()
	logger.Info("stage lane started",
		logging.Duration("interval", lane.stage.Interval),
		logging.String("lease", lane.lease.Name()),
		logging.String(logging.FieldEventType, "stage_lane_started"),
	)

	for ctx.Err() == nil {
		wait := lane.stage.Interval
		held, err := lane.lease.Acquire(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			lane.recordFailure(err)
			logging.WarnWithContext(logger, "lease check failed", "lease_check_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the lease backend"),
				logging.String(logging.FieldImpact, "stage paused until the lease can be confirmed"),
			)
			wait = m.errorRetry
		case !held:
			if lane.setLease(false) {
				logger.Info("lease held elsewhere; standing by",
					logging.String("lease", lane.lease.Name()),
					logging.String(logging.FieldEventType, "stage_standby"),
				)
			}
		default:
			if lane.setLease(true) {
				logger.Info("lease acquired",
					logging.String("lease", lane.lease.Name()),
					logging.String(logging.FieldEventType, "lease_acquired"),
				)
			}
			wait = m.pass(ctx, lane)
		}
		if err := m.clock.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// pass runs one engine pass and returns how long to wait before the next.
func (m *Manager) pass(ctx context.Context, lane *laneState) time.Duration {
	passCtx, stop := lease.Keep(ctx, lane.lease)
	stats, err := m.engine.RunPass(passCtx, lane.stage)
	stop()
	if lost := context.Cause(passCtx); errors.Is(lost, lease.ErrLost) && ctx.Err() == nil {
		lane.setLease(false)
		lane.recordFailure(lost)
		logging.WarnWithContext(lane.logger, "lease lost during pass", "lease_lost",
			logging.Error(lost),
			logging.String(logging.FieldErrorHint, "raise lease.ttl_seconds or check the lease backend"),
			logging.String(logging.FieldImpact, "pass cancelled; unfinished items stay pending for the next holder"),
		)
		return lane.stage.Interval
	}
	if err == nil {
		lane.recordPass(stats)
		return lane.stage.Interval
	}
	if ctx.Err() != nil {
		return 0
	}
	first := lane.recordFailure(err)
	logging.ErrorWithContext(lane.logger, "stage pass failed", "stage_pass_failed",
		logging.Error(err),
		logging.Duration("retry_in", m.errorRetry),
		logging.String(logging.FieldErrorHint, "check object store connectivity and credentials"),
	)
	if first {
		if notifyErr := m.notifier.NotifyStageError(ctx, lane.stage.ID, err); notifyErr != nil {
			lane.logger.Debug("stage error notification failed", logging.Error(notifyErr))
		}
	}
	return m.errorRetry
}
