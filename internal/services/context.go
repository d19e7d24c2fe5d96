package services

import "context"

type contextKey string

const (
	keyKey       contextKey = "object_key"
	stageKey     contextKey = "stage"
	platformKey  contextKey = "platform"
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

// WithKey annotates context with the object key of the work item being handled.
func WithKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, keyKey, key)
}

// KeyFromContext extracts the work item key if present.
func KeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(keyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithAccount annotates context with the platform and identity owning the item.
func WithAccount(ctx context.Context, platform, identity string) context.Context {
	if platform != "" {
		ctx = context.WithValue(ctx, platformKey, platform)
	}
	if identity != "" {
		ctx = context.WithValue(ctx, identityKey, identity)
	}
	return ctx
}

// AccountFromContext returns the platform and identity if present.
func AccountFromContext(ctx context.Context) (platform, identity string) {
	platform, _ = ctx.Value(platformKey).(string)
	identity, _ = ctx.Value(identityKey).(string)
	return platform, identity
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
