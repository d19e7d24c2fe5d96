package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"postforge/internal/classify"
	"postforge/internal/logging"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
)

// Scanner enumerates candidate keys for a stage. It never writes.
type Scanner struct {
	store      objectstore.Gateway
	classifier classify.Classifier
	platforms  []string
	logger     *slog.Logger
}

// NewScanner builds a scanner over the configured platforms.
func NewScanner(store objectstore.Gateway, classifier classify.Classifier, platforms []string, logger *slog.Logger) *Scanner {
	if classifier == nil {
		classifier = classify.AllowAll{}
	}
	return &Scanner{
		store:      store,
		classifier: classifier,
		platforms:  append([]string(nil), platforms...),
		logger:     logging.NewComponentLogger(logger, "scanner"),
	}
}

// Scan lists every platform under the stage input prefix and keeps keys that
// parse, match the stage's file pattern, and belong to a production identity.
// A listing failure on one platform is logged and skipped; the scan fails only
// when every platform fails.
func (s *Scanner) Scan(ctx context.Context, st *Stage) ([]naming.Key, error) {
	var (
		keys     []naming.Key
		failures int
		lastErr  error
	)
	for _, platform := range s.platforms {
		listed, err := s.store.List(ctx, naming.PlatformPrefix(st.InputPrefix, platform))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			lastErr = err
			logging.WarnWithContext(s.logger, "listing failed", "scan_list_failed",
				logging.String(logging.FieldStage, st.ID),
				logging.String(logging.FieldPlatform, platform),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check object store connectivity"),
				logging.String(logging.FieldImpact, "platform skipped for this pass"),
			)
			continue
		}
		for _, raw := range listed {
			key, err := naming.Parse(raw)
			if err != nil || key.Prefix != st.InputPrefix || key.Platform != platform {
				continue
			}
			if !st.accepts(key) {
				continue
			}
			if !s.classifier.IsProductionIdentity(key.Identity) {
				s.logger.Debug("identity filtered",
					logging.String(logging.FieldKey, raw),
					logging.String(logging.FieldIdentity, key.Identity),
				)
				continue
			}
			keys = append(keys, key)
		}
	}
	if len(s.platforms) > 0 && failures == len(s.platforms) {
		return nil, fmt.Errorf("scan %s: every platform listing failed: %w", st.ID, lastErr)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
