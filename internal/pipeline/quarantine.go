package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/notifications"
	"postforge/internal/objectstore"
	"postforge/internal/services"
)

// Record is the failure document stored under failed_<stage>/.
type Record struct {
	Key         string              `json:"-"`
	Reason      string              `json:"reason"`
	Details     string              `json:"details"`
	Timestamp   string              `json:"timestamp"`
	OriginalKey string              `json:"original_key"`
	Stage       string              `json:"stage"`
	Payload     objectstore.Payload `json:"payload,omitempty"`
}

func (r Record) toPayload() objectstore.Payload {
	p := objectstore.Payload{
		"reason":       r.Reason,
		"details":      r.Details,
		"timestamp":    r.Timestamp,
		"original_key": r.OriginalKey,
		"stage":        r.Stage,
	}
	if r.Payload != nil {
		p["payload"] = map[string]any(r.Payload)
	}
	return p
}

func recordFromPayload(key string, p objectstore.Payload) Record {
	rec := Record{
		Key:         key,
		Reason:      p.String("reason"),
		Details:     p.String("details"),
		Timestamp:   p.String("timestamp"),
		OriginalKey: p.String("original_key"),
		Stage:       p.String("stage"),
	}
	if inner, ok := p.Object("payload"); ok {
		rec.Payload = inner
	}
	return rec
}

// Quarantine relocates items that can never succeed.
type Quarantine struct {
	store    objectstore.Gateway
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewQuarantine builds a quarantine writer. A nil notifier drops notifications.
func NewQuarantine(store objectstore.Gateway, notifier notifications.Service, logger *slog.Logger, now func() time.Time) *Quarantine {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	if now == nil {
		now = time.Now
	}
	return &Quarantine{
		store:    store,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "quarantine"),
		now:      now,
	}
}

// Quarantine writes a failure record for key and deletes the original.
//
// The payload is embedded when it can still be decoded. When the record is
// written but the delete fails, the failure is logged and not retried: the
// record key is deterministic, so a later attempt overwrites the same record.
func (q *Quarantine) Quarantine(ctx context.Context, st *Stage, key naming.Key, reason, details string) (Record, error) {
	if strings.TrimSpace(reason) == "" {
		reason = services.ReasonUnclassifiedFail
	}
	original := key.String()
	rec := Record{
		Key:         naming.QuarantineKey(st.ID, st.InputPrefix, original),
		Reason:      reason,
		Details:     details,
		Timestamp:   q.now().UTC().Format(time.RFC3339),
		OriginalKey: original,
		Stage:       st.ID,
	}

	payload, err := q.store.ReadJSON(ctx, original)
	switch {
	case err == nil:
		rec.Payload = payload
	case errors.Is(err, services.ErrNotFound):
		return Record{}, fmt.Errorf("quarantine %s: %w", original, err)
	case errors.Is(err, services.ErrCorrupted):
		// record stands alone
	default:
		return Record{}, fmt.Errorf("quarantine %s: read original: %w", original, err)
	}

	if err := q.store.WriteJSON(ctx, rec.Key, rec.toPayload()); err != nil {
		return Record{}, fmt.Errorf("quarantine %s: write record: %w", original, err)
	}

	logger := q.logger.With(
		logging.String(logging.FieldStage, st.ID),
		logging.String(logging.FieldKey, original),
		logging.String(logging.FieldReason, reason),
	)
	if err := q.store.Delete(ctx, original); err != nil && !errors.Is(err, services.ErrNotFound) {
		logging.ErrorWithContext(logger, "quarantine delete failed", "quarantine_delete_failed",
			logging.String("record_key", rec.Key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the original key manually"),
		)
	}
	logger.Warn("item quarantined",
		logging.String("record_key", rec.Key),
		logging.String("details", details),
		logging.String(logging.FieldEventType, "item_quarantined"),
		logging.String(logging.FieldImpact, "item removed from the stage until requeued"),
	)

	if err := q.notifier.NotifyQuarantined(ctx, st.ID, original, reason); err != nil {
		logger.Debug("quarantine notification failed", logging.Error(err))
	}
	return rec, nil
}

// List returns the failure records for a stage, sorted by key.
func (q *Quarantine) List(ctx context.Context, st *Stage) ([]Record, error) {
	keys, err := q.store.List(ctx, st.QuarantinePrefix()+"/")
	if err != nil {
		return nil, fmt.Errorf("list quarantine %s: %w", st.ID, err)
	}
	sort.Strings(keys)
	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		payload, err := q.store.ReadJSON(ctx, key)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			records = append(records, Record{Key: key, Reason: services.ReasonCorrupted, Details: err.Error()})
			continue
		}
		records = append(records, recordFromPayload(key, payload))
	}
	return records, nil
}

// Requeue restores the embedded payload as pending and removes the record.
func (q *Quarantine) Requeue(ctx context.Context, st *Stage, recordKey string) (string, error) {
	target, err := naming.RestoreKey(st.ID, st.InputPrefix, recordKey)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, st.ID, "requeue", "not a quarantine record key", err)
	}
	payload, err := q.store.ReadJSON(ctx, recordKey)
	if err != nil {
		return "", fmt.Errorf("requeue %s: %w", recordKey, err)
	}
	rec := recordFromPayload(recordKey, payload)
	if rec.Payload == nil {
		return "", services.Wrap(services.ErrValidation, st.ID, "requeue", "record has no recoverable payload", nil)
	}
	restored := rec.Payload.Clone()
	restored.MarkPending()
	if err := q.store.WriteJSON(ctx, target, restored); err != nil {
		return "", fmt.Errorf("requeue %s: restore: %w", recordKey, err)
	}
	if err := q.store.Delete(ctx, recordKey); err != nil && !errors.Is(err, services.ErrNotFound) {
		return target, fmt.Errorf("requeue %s: remove record: %w", recordKey, err)
	}
	q.logger.Info("item requeued",
		logging.String(logging.FieldStage, st.ID),
		logging.String(logging.FieldKey, target),
		logging.String("record_key", recordKey),
	)
	return target, nil
}
