package pipeline

import (
	"context"
	"errors"

	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/services"
	"postforge/internal/stage"
)

// Resolver decides whether a key needs processing, from stored state only.
type Resolver struct {
	store objectstore.Gateway
}

// NewResolver builds a resolver.
func NewResolver(store objectstore.Gateway) *Resolver {
	return &Resolver{store: store}
}

// IsActionable reports whether key should be processed by st.
//
// Pending, error, and missing statuses are actionable. A processed item is
// actionable only when no output for it exists, unless its handler reports
// it settled. Unreadable objects return an
// error wrapping services.ErrCorrupted so the caller can quarantine them; a
// vanished object is simply not actionable.
func (r *Resolver) IsActionable(ctx context.Context, st *Stage, key naming.Key) (bool, error) {
	payload, err := r.store.ReadJSON(ctx, key.String())
	switch {
	case errors.Is(err, services.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	switch payload.Status() {
	case objectstore.StatusPending, objectstore.StatusError:
		return true, nil
	case objectstore.StatusProcessed:
		if settler, ok := st.Handler.(stage.Settler); ok && settler.Settled(payload) {
			return false, nil
		}
		found, err := r.HasOutput(ctx, st, key)
		if err != nil {
			return false, err
		}
		return !found, nil
	default:
		return false, nil
	}
}

// HasOutput looks for reconciliation evidence: an object for the same
// platform and identity under the output or a downstream prefix, or one with
// the same file name for EvidenceSameName stages.
func (r *Resolver) HasOutput(ctx context.Context, st *Stage, key naming.Key) (bool, error) {
	if st.Evidence == EvidenceSameName {
		_, err := r.store.ReadJSON(ctx, key.WithPrefix(st.OutputPrefix).String())
		switch {
		case err == nil, errors.Is(err, services.ErrCorrupted):
			return true, nil
		case errors.Is(err, services.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}

	prefixes := append([]string{st.OutputPrefix}, st.Downstream...)
	for _, prefix := range prefixes {
		keys, err := r.store.List(ctx, naming.IdentityPrefix(prefix, key.Platform, key.Identity))
		if err != nil {
			return false, err
		}
		for _, raw := range keys {
			if out, err := naming.Parse(raw); err == nil && out.IsJSON() {
				return true, nil
			}
		}
	}
	return false, nil
}
