package objectstore

import (
	"encoding/json"
	"strings"
	"time"
)

// Status values understood by the pipeline.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusError     = "error"
)

// Field names shared by every stage payload.
const (
	FieldStatus        = "status"
	FieldStatusMessage = "status_message"
	FieldProcessedAt   = "processed_at"
)

// Payload is a decoded JSON object.
type Payload map[string]any

// Status returns the normalized status field; an absent field reads as pending.
func (p Payload) Status() string {
	raw, ok := p[FieldStatus]
	if !ok || raw == nil {
		return StatusPending
	}
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StatusPending
	}
	return s
}

// MarkProcessed flips the payload to processed and drops any status message.
func (p Payload) MarkProcessed(now time.Time) {
	p[FieldStatus] = StatusProcessed
	p[FieldProcessedAt] = now.UTC().Format(time.RFC3339)
	delete(p, FieldStatusMessage)
}

// MarkPending resets the payload for another attempt.
func (p Payload) MarkPending() {
	p[FieldStatus] = StatusPending
	delete(p, FieldStatusMessage)
	delete(p, FieldProcessedAt)
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneValue(map[string]any(p)).(map[string]any))
}

// String returns a trimmed string field; json.Number and numbers are rendered.
func (p Payload) String(field string) string {
	switch v := p[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Object returns a nested object field.
func (p Payload) Object(field string) (Payload, bool) {
	switch v := p[field].(type) {
	case map[string]any:
		return Payload(v), true
	case Payload:
		return v, true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Payload:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
