package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"postforge/internal/classify"
	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/notifications"
	"postforge/internal/objectstore"
	"postforge/internal/retry"
	"postforge/internal/services"
)

// PassStats summarizes one scan-resolve-process pass over a stage.
type PassStats struct {
	Stage       string
	Scanned     int
	Actionable  int
	Committed   int
	Skipped     int
	Quarantined int
	Deferred    int
	Errors      int
	Started     time.Time
	Duration    time.Duration
}

// Engine wires the scanner, resolver, processor, and quarantine together.
type Engine struct {
	Scanner    *Scanner
	Resolver   *Resolver
	Processor  *Processor
	Quarantine *Quarantine

	clock  retry.Clock
	logger *slog.Logger
}

// Options configure an Engine.
type Options struct {
	Store      objectstore.Gateway
	Classifier classify.Classifier
	Notifier   notifications.Service
	Platforms  []string
	Policy     retry.Policy
	Clock      retry.Clock
	Logger     *slog.Logger
}

// NewEngine builds an engine from its collaborators.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline engine requires an object store")
	}
	if len(opts.Platforms) == 0 {
		return nil, errors.New("pipeline engine requires at least one platform")
	}
	clock := opts.Clock
	if clock == nil {
		clock = retry.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	quarantine := NewQuarantine(opts.Store, opts.Notifier, logger, clock.Now)
	return &Engine{
		Scanner:    NewScanner(opts.Store, opts.Classifier, opts.Platforms, logger),
		Resolver:   NewResolver(opts.Store),
		Processor:  NewProcessor(opts.Store, quarantine, opts.Policy, clock, logger),
		Quarantine: quarantine,
		clock:      clock,
		logger:     logging.NewComponentLogger(logger, "engine"),
	}, nil
}

// RunPass scans st once and processes every actionable key, up to MaxItems.
// Scan failures are returned; per-item failures are contained and counted.
func (e *Engine) RunPass(ctx context.Context, st *Stage) (PassStats, error) {
	stats := PassStats{Stage: st.ID, Started: e.clock.Now()}
	ctx = services.WithRequestID(services.WithStage(ctx, st.ID), uuid.NewString())
	logger := logging.WithContext(ctx, e.logger)
	defer func() { stats.Duration = e.clock.Now().Sub(stats.Started) }()

	keys, err := e.Scanner.Scan(ctx, st)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if st.MaxItems > 0 && stats.Actionable >= st.MaxItems {
			logger.Debug("pass item limit reached", logging.Int("max_items", st.MaxItems))
			break
		}

		actionable, err := e.Resolver.IsActionable(ctx, st, key)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if errors.Is(err, services.ErrCorrupted) {
				stats.Actionable++
				e.tally(&stats, e.quarantineCorrupted(ctx, st, key, err))
				continue
			}
			stats.Errors++
			logging.WarnWithContext(logger, "status resolution failed", "resolve_failed",
				logging.String(logging.FieldKey, key.String()),
				logging.Error(err),
			)
			continue
		}
		if !actionable {
			continue
		}

		stats.Actionable++
		outcome, err := e.Processor.ProcessOne(ctx, st, key)
		if err != nil {
			return stats, err
		}
		e.tally(&stats, outcome)
	}

	stats.Duration = e.clock.Now().Sub(stats.Started)
	if stats.Actionable > 0 || stats.Errors > 0 {
		logger.Info("stage pass complete",
			logging.Int("scanned", stats.Scanned),
			logging.Int("actionable", stats.Actionable),
			logging.Int("committed", stats.Committed),
			logging.Int("quarantined", stats.Quarantined),
			logging.Int("deferred", stats.Deferred),
			logging.Int("errors", stats.Errors),
			logging.Duration("duration", stats.Duration),
		)
	}
	return stats, nil
}

func (e *Engine) quarantineCorrupted(ctx context.Context, st *Stage, key naming.Key, cause error) Outcome {
	outcome, err := e.Processor.quarantineItem(ctx, st, key, services.ReasonCorrupted, cause)
	if err != nil {
		return OutcomeSkipped
	}
	return outcome
}

func (e *Engine) tally(stats *PassStats, outcome Outcome) {
	switch outcome {
	case OutcomeCommitted:
		stats.Committed++
	case OutcomeQuarantined:
		stats.Quarantined++
	case OutcomeDeferred:
		stats.Deferred++
	default:
		stats.Skipped++
	}
}

// Inspect reports the resolver's view of a single key without processing it.
func (e *Engine) Inspect(ctx context.Context, st *Stage, key naming.Key) (string, error) {
	actionable, err := e.Resolver.IsActionable(ctx, st, key)
	switch {
	case errors.Is(err, services.ErrCorrupted):
		return "corrupted", nil
	case err != nil:
		return "", fmt.Errorf("inspect %s: %w", key, err)
	case actionable:
		return "actionable", nil
	default:
		return "settled", nil
	}
}
