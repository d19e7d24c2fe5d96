package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"postforge/internal/config"
	"postforge/internal/lease"
	"postforge/internal/logging"
	"postforge/internal/notifications"
	"postforge/internal/pipeline"
	"postforge/internal/retry"
)

// Engine is the pass runner the manager drives; *pipeline.Engine satisfies it.
type Engine interface {
	RunPass(ctx context.Context, st *pipeline.Stage) (pipeline.PassStats, error)
}

// Manager coordinates one lane per configured stage.
type Manager struct {
	engine     Engine
	notifier   notifications.Service
	logger     *slog.Logger
	clock      retry.Clock
	errorRetry time.Duration

	lanes []*laneState

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Options configures a Manager.
type Options struct {
	Engine   Engine
	Stages   []*pipeline.Stage
	Leases   *lease.Provider
	Notifier notifications.Service
	Logger   *slog.Logger
	Clock    retry.Clock
	// ErrorRetry is the back-off after a failed pass.
	ErrorRetry time.Duration
}

// NewManager constructs a workflow manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("workflow requires a pipeline engine")
	}
	if len(opts.Stages) == 0 {
		return nil, errors.New("workflow stages not configured")
	}
	m := &Manager{
		engine:     opts.Engine,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		clock:      opts.Clock,
		errorRetry: opts.ErrorRetry,
	}
	if m.notifier == nil {
		m.notifier = notifications.NewNoop()
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.clock == nil {
		m.clock = retry.System()
	}
	if m.errorRetry <= 0 {
		m.errorRetry = 30 * time.Second
	}
	leases := opts.Leases
	if leases == nil {
		var err error
		if leases, err = lease.Open(config.Lease{Backend: config.LeaseNone}); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(opts.Stages))
	for _, st := range opts.Stages {
		if err := st.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[st.ID]; dup {
			return nil, errors.New("duplicate stage " + st.ID)
		}
		seen[st.ID] = struct{}{}
		m.lanes = append(m.lanes, &laneState{
			stage:  st,
			lease:  leases.For(st.ID),
			logger: m.laneLogger(st),
		})
	}
	return m, nil
}

// ErrorRetryFromConfig converts the workflow back-off setting.
func ErrorRetryFromConfig(cfg config.Workflow) time.Duration {
	return time.Duration(cfg.ErrorRetryInterval) * time.Second
}

func (m *Manager) laneLogger(st *pipeline.Stage) *slog.Logger {
	return m.logger.With(
		logging.String(logging.FieldComponent, "workflow-"+st.ID+"-lane"),
		logging.String(logging.FieldStage, st.ID),
	)
}

func (m *Manager) lane(id string) *laneState {
	for _, lane := range m.lanes {
		if lane.stage.ID == id {
			return lane
		}
	}
	return nil
}
