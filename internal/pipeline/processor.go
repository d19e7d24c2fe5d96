package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/retry"
	"postforge/internal/services"
	"postforge/internal/stage"
)

// Outcome reports what ProcessOne did with an item.
type Outcome int

const (
	// OutcomeSkipped leaves the item untouched for a later pass.
	OutcomeSkipped Outcome = iota
	// OutcomeCommitted means the output was written and the source marked.
	OutcomeCommitted
	// OutcomeQuarantined means the item moved to the failure area.
	OutcomeQuarantined
	// OutcomeDeferred means the output commit failed; the item stays pending.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeQuarantined:
		return "quarantined"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "skipped"
	}
}

// Processor runs the per-item lifecycle: read, prepare, transform, commit,
// or quarantine.
type Processor struct {
	store      objectstore.Gateway
	quarantine *Quarantine
	policy     retry.Policy
	clock      retry.Clock
	logger     *slog.Logger
}

// NewProcessor builds a processor. A nil clock uses the system clock.
func NewProcessor(store objectstore.Gateway, quarantine *Quarantine, policy retry.Policy, clock retry.Clock, logger *slog.Logger) *Processor {
	if clock == nil {
		clock = retry.System()
	}
	return &Processor{
		store:      store,
		quarantine: quarantine,
		policy:     policy,
		clock:      clock,
		logger:     logging.NewComponentLogger(logger, "processor"),
	}
}

// ProcessOne handles a single actionable key.
//
// Only a cancelled context is returned as an error; every other failure is
// classified into the outcome and logged with the offending key.
func (p *Processor) ProcessOne(ctx context.Context, st *Stage, key naming.Key) (Outcome, error) {
	ctx = services.WithStage(services.WithKey(ctx, key.String()), st.ID)
	ctx = services.WithAccount(ctx, key.Platform, key.Identity)
	logger := logging.WithContext(ctx, p.logger)

	payload, err := p.store.ReadJSON(ctx, key.String())
	switch {
	case errors.Is(err, services.ErrNotFound):
		logger.Debug("item vanished before processing")
		return OutcomeSkipped, nil
	case errors.Is(err, services.ErrCorrupted):
		return p.quarantineItem(ctx, st, key, services.ReasonCorrupted, err)
	case err != nil:
		return p.storageFailure(ctx, logger, "read failed", err)
	}

	item := &stage.Item{Key: key, Payload: payload}
	if aware, ok := st.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	if err := st.Handler.Prepare(ctx, item); err != nil {
		if ctx.Err() != nil {
			return OutcomeSkipped, ctx.Err()
		}
		if errors.Is(err, services.ErrValidation) {
			logging.WarnWithContext(logger, "item failed validation", "item_validation_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the payload upstream; it will be picked up on the next pass"),
			)
			return OutcomeSkipped, nil
		}
		if errors.Is(err, services.ErrCorrupted) {
			return p.quarantineItem(ctx, st, key, services.ReasonCorrupted, err)
		}
		logging.WarnWithContext(logger, "auxiliary inputs unavailable", "item_prepare_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check object store connectivity"),
		)
		return OutcomeDeferred, nil
	}

	out, err := p.execute(ctx, st, item, logger)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return OutcomeSkipped, ctx.Err()
		case errors.Is(err, services.ErrValidation):
			logging.WarnWithContext(logger, "transform rejected input as invalid", "item_validation_failed",
				logging.Error(err),
			)
			return OutcomeSkipped, nil
		case errors.Is(err, services.ErrConfiguration):
			logging.ErrorWithContext(logger, "transform misconfigured", "transform_config_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check credentials and endpoints in the config file"),
			)
			return OutcomeDeferred, nil
		case retry.IsExhausted(err) || services.IsRetryable(err):
			return p.quarantineItem(ctx, st, key, services.ReasonTransient, err)
		case errors.Is(err, services.ErrCorrupted):
			return p.quarantineItem(ctx, st, key, services.ReasonCorrupted, err)
		default:
			return p.quarantineItem(ctx, st, key, services.ReasonRejected, err)
		}
	}

	now := p.clock.Now()
	if out.Payload == nil {
		return p.drain(ctx, st, item, out, now, logger)
	}

	outputKey := key.WithPrefix(st.OutputPrefix)
	if out.File != "" {
		outputKey = outputKey.WithFile(out.File)
	}
	if err := p.commitOutput(ctx, outputKey, out); err != nil {
		if ctx.Err() != nil {
			return OutcomeSkipped, ctx.Err()
		}
		logging.WarnWithContext(logger, "output commit failed", "output_commit_failed",
			logging.String("output_key", outputKey.String()),
			logging.Error(err),
			logging.String(logging.FieldReason, services.ReasonOutputCommit),
			logging.String(logging.FieldErrorHint, "check object store write permissions"),
			logging.String(logging.FieldImpact, "source left pending; transform will run again"),
		)
		return OutcomeDeferred, nil
	}

	if st.Commit == CommitDeleteSource {
		p.deleteSource(ctx, st, item, out, outputKey, now, logger)
	} else if err := p.markSource(ctx, st, item, out, now); err != nil {
		logging.WarnWithContext(logger, "source status update failed", "source_mark_failed",
			logging.String("output_key", outputKey.String()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "source stays actionable; reconciliation finds the committed output"),
		)
	}

	logger.Info("item committed",
		logging.String("output_key", outputKey.String()),
		logging.String(logging.FieldEventType, "item_committed"),
	)
	return OutcomeCommitted, nil
}

func (p *Processor) execute(ctx context.Context, st *Stage, item *stage.Item, logger *slog.Logger) (stage.Output, error) {
	var out stage.Output
	err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, st.Timeout)
		defer cancel()
		result, err := st.Handler.Execute(attemptCtx, item)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, services.ErrTimeout) {
				err = services.Wrap(services.ErrTimeout, st.ID, "transform", fmt.Sprintf("exceeded %s", st.Timeout), err)
			}
			return err
		}
		out = result
		return nil
	},
		retry.WithClock(p.clock),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			logger.Info("transform retry scheduled",
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
				logging.Error(err),
			)
		}),
	)
	return out, err
}

// drain handles a transform with nothing to emit. MarkSource returning nil
// means the source stays as it is (for example a post that is not due yet).
func (p *Processor) drain(ctx context.Context, st *Stage, item *stage.Item, out stage.Output, now time.Time, logger *slog.Logger) (Outcome, error) {
	if item.Payload.Status() == objectstore.StatusProcessed {
		logger.Debug("nothing to emit")
		return OutcomeSkipped, nil
	}
	marked := st.Handler.MarkSource(item, out, now)
	if marked == nil {
		logger.Debug("nothing due")
		return OutcomeSkipped, nil
	}
	if err := p.store.WriteJSON(ctx, item.Key.String(), marked); err != nil {
		return p.storageFailure(ctx, logger, "source update failed", err)
	}
	logger.Info("item drained", logging.String(logging.FieldEventType, "item_drained"))
	return OutcomeCommitted, nil
}

func (p *Processor) commitOutput(ctx context.Context, outputKey naming.Key, out stage.Output) error {
	for _, att := range out.Attachments {
		key := outputKey.WithFile(att.File).String()
		if err := p.store.WriteBinary(ctx, key, att.Data, att.ContentType); err != nil {
			return services.Wrap(services.ErrOutputCommit, "", "write attachment", key, err)
		}
	}
	if err := p.store.WriteJSON(ctx, outputKey.String(), out.Payload); err != nil {
		return services.Wrap(services.ErrOutputCommit, "", "write output", outputKey.String(), err)
	}
	return nil
}

func (p *Processor) markSource(ctx context.Context, st *Stage, item *stage.Item, out stage.Output, now time.Time) error {
	marked := st.Handler.MarkSource(item, out, now)
	if marked == nil {
		marked = item.Payload.Clone()
		marked.MarkProcessed(now)
	}
	return p.store.WriteJSON(ctx, item.Key.String(), marked)
}

// deleteSource removes the source once the output is readable. When the
// output cannot be confirmed or the delete fails, the source is flipped to
// processed instead so reconciliation can still see the committed output.
func (p *Processor) deleteSource(ctx context.Context, st *Stage, item *stage.Item, out stage.Output, outputKey naming.Key, now time.Time, logger *slog.Logger) {
	_, err := p.store.ReadJSON(ctx, outputKey.String())
	if err == nil {
		err = p.store.Delete(ctx, item.Key.String())
		if err == nil || errors.Is(err, services.ErrNotFound) {
			return
		}
	}
	logging.WarnWithContext(logger, "source delete not confirmed", "source_delete_failed",
		logging.String("output_key", outputKey.String()),
		logging.Error(err),
		logging.String(logging.FieldImpact, "source flipped to processed instead of deleted"),
	)
	if err := p.markSource(ctx, st, item, out, now); err != nil {
		logger.Debug("fallback status update failed", logging.Error(err))
	}
}

func (p *Processor) quarantineItem(ctx context.Context, st *Stage, key naming.Key, reason string, cause error) (Outcome, error) {
	if _, err := p.quarantine.Quarantine(ctx, st, key, reason, cause.Error()); err != nil {
		if ctx.Err() != nil {
			return OutcomeSkipped, ctx.Err()
		}
		if errors.Is(err, services.ErrNotFound) {
			return OutcomeSkipped, nil
		}
		logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "quarantine failed", "quarantine_failed",
			logging.String(logging.FieldReason, reason),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the item will be examined again next pass"),
		)
		return OutcomeSkipped, nil
	}
	return OutcomeQuarantined, nil
}

func (p *Processor) storageFailure(ctx context.Context, logger *slog.Logger, msg string, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeSkipped, ctx.Err()
	}
	logging.WarnWithContext(logger, msg, "item_storage_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check object store connectivity"),
	)
	return OutcomeSkipped, nil
}
