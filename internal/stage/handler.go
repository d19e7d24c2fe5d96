package stage

import (
	"context"
	"log/slog"
	"time"

	"postforge/internal/naming"
	"postforge/internal/objectstore"
)

// Item is one work item read from a stage's input prefix.
type Item struct {
	Key     naming.Key
	Payload objectstore.Payload
	// Input is the canonical record produced by Prepare.
	Input any
	// Aux holds optional auxiliary inputs loaded by Prepare.
	Aux any
}

// Attachment is a binary object committed alongside the canonical output.
type Attachment struct {
	File        string
	Data        []byte
	ContentType string
}

// Output is the result of a transform.
type Output struct {
	// File is the output name under <output>/<platform>/<identity>/.
	File string
	// Payload is the canonical output. Nil means there is nothing to emit.
	Payload     objectstore.Payload
	Attachments []Attachment
	// State carries handler data from Execute to MarkSource.
	State any
}

// Handler describes the contract the pipeline needs from each stage.
//
// Prepare validates the payload and loads auxiliary inputs; a
// services.ErrValidation failure skips the item without quarantine.
// Execute must be idempotent: it may run more than once for the same input.
// MarkSource returns the source payload to persist after the output commit.
type Handler interface {
	Prepare(ctx context.Context, item *Item) error
	Execute(ctx context.Context, item *Item) (Output, error)
	MarkSource(item *Item, out Output, now time.Time) objectstore.Payload
	HealthCheck(ctx context.Context) Health
}

// Settler is implemented by handlers whose source records each output it
// released. Settled reports that a processed source has nothing left to
// re-derive, so it needs no reconciliation even when the outputs have since
// been consumed downstream.
type Settler interface {
	Settled(payload objectstore.Payload) bool
}

// LoggerAware is implemented by handlers that accept a per-pass logger.
type LoggerAware interface {
	SetLogger(logger *slog.Logger)
}

// Health summarizes whether a stage's external dependencies are usable.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a Health record explaining why the stage cannot run.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Status renders the health for tables and JSON.
func (h Health) Status() string {
	if h.Ready {
		return "ready"
	}
	if h.Detail == "" {
		return "unavailable"
	}
	return "unavailable: " + h.Detail
}
