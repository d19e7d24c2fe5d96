package api

import (
	"time"

	"postforge/internal/pipeline"
	"postforge/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running bool         `json:"running"`
	Stages  []StageState `json:"stages"`
}

// StageState is one lane of the workflow.
type StageState struct {
	Stage          string      `json:"stage"`
	IntervalMillis int64       `json:"intervalMs"`
	Passes         int         `json:"passes"`
	Committed      int         `json:"committed"`
	Skipped        int         `json:"skipped"`
	Quarantined    int         `json:"quarantined"`
	Deferred       int         `json:"deferred"`
	LastPass       string      `json:"lastPass,omitempty"`
	LastDurationMs int64       `json:"lastDurationMs"`
	LastError      string      `json:"lastError,omitempty"`
	Lease          string      `json:"lease"`
	LeaseHeld      bool        `json:"leaseHeld"`
	Standby        bool        `json:"standby"`
	Health         StageHealth `json:"health"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QuarantineRecord is a failure record in a stage's quarantine namespace.
type QuarantineRecord struct {
	Key         string `json:"key"`
	OriginalKey string `json:"originalKey"`
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
	Details     string `json:"details,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// QuarantineListResponse wraps the records of one stage.
type QuarantineListResponse struct {
	Stage   string             `json:"stage"`
	Records []QuarantineRecord `json:"records"`
}

// RequeueResponse reports where a record was restored.
type RequeueResponse struct {
	Stage     string `json:"stage"`
	RecordKey string `json:"recordKey"`
	Restored  string `json:"restored"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// FromStatusSummary converts workflow diagnostics to the wire format.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	out := WorkflowStatus{Running: summary.Running, Stages: make([]StageState, 0, len(summary.Lanes))}
	for _, lane := range summary.Lanes {
		state := StageState{
			Stage:          lane.Stage,
			IntervalMillis: lane.Interval.Milliseconds(),
			Passes:         lane.Passes,
			Committed:      lane.Committed,
			Skipped:        lane.Skipped,
			Quarantined:    lane.Quarantined,
			Deferred:       lane.Deferred,
			LastDurationMs: lane.LastDuration.Milliseconds(),
			LastError:      lane.LastError,
			Lease:          lane.Lease,
			LeaseHeld:      lane.LeaseHeld,
			Standby:        lane.Standby,
			Health: StageHealth{
				Name:   lane.Health.Name,
				Ready:  lane.Health.Ready,
				Detail: lane.Health.Detail,
			},
		}
		state.LastPass = formatTime(lane.LastPass)
		out.Stages = append(out.Stages, state)
	}
	return out
}

// FromRecord converts a quarantine record to the wire format.
func FromRecord(rec pipeline.Record) QuarantineRecord {
	return QuarantineRecord{
		Key:         rec.Key,
		OriginalKey: rec.OriginalKey,
		Stage:       rec.Stage,
		Reason:      rec.Reason,
		Details:     rec.Details,
		Timestamp:   rec.Timestamp,
		Recoverable: rec.Payload != nil,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
