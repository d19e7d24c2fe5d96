package logging

import (
	"context"
	"log/slog"

	"postforge/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldKey is the standardized structured logging key for object keys.
	FieldKey = "key"
	// FieldPlatform is the standardized structured logging key for the social platform.
	FieldPlatform = "platform"
	// FieldIdentity is the standardized structured logging key for the account identity.
	FieldIdentity = "identity"
	// FieldCorrelationID is the standardized structured logging key for pass correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (stage_pass_start, item_committed, ...).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the consequence of a warning.
	FieldImpact = "impact"
	// FieldReason carries a quarantine or skip reason.
	FieldReason = "reason"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if key, ok := services.KeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldKey, key))
	}
	platform, identity := services.AccountFromContext(ctx)
	if platform != "" {
		fields = append(fields, slog.String(FieldPlatform, platform))
	}
	if identity != "" {
		fields = append(fields, slog.String(FieldIdentity, identity))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
