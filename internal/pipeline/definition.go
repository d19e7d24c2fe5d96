package pipeline

import (
	"fmt"
	"time"

	"postforge/internal/naming"
	"postforge/internal/stage"
)

// CommitPolicy decides what happens to the source after the output commit.
type CommitPolicy int

const (
	// CommitFlipStatus rewrites the source with status=processed.
	CommitFlipStatus CommitPolicy = iota
	// CommitDeleteSource removes the source once the output is confirmed.
	CommitDeleteSource
)

func (p CommitPolicy) String() string {
	if p == CommitDeleteSource {
		return "delete_source"
	}
	return "flip_status"
}

// EvidenceMode decides what counts as a stage's output for reconciliation.
type EvidenceMode int

const (
	// EvidenceIdentity accepts any JSON object under the identity's output prefix.
	EvidenceIdentity EvidenceMode = iota
	// EvidenceSameName requires an output with the source's file name.
	EvidenceSameName
)

// Stage describes one pipeline boundary.
type Stage struct {
	ID           string
	InputPrefix  string
	OutputPrefix string
	// Downstream lists later output prefixes searched for evidence by
	// EvidenceIdentity stages.
	Downstream []string
	// Accepts filters input files by naming pattern.
	Accepts  func(key naming.Key) bool
	Commit   CommitPolicy
	Evidence EvidenceMode
	Interval time.Duration
	Timeout  time.Duration
	// MaxItems bounds the actionable items handled per pass; zero is unbounded.
	MaxItems int
	Handler  stage.Handler
}

// Validate reports definition mistakes before a scheduler starts.
func (s *Stage) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("stage definition is nil")
	case s.ID == "":
		return fmt.Errorf("stage id is required")
	case s.InputPrefix == "" || s.OutputPrefix == "":
		return fmt.Errorf("stage %s: input and output prefixes are required", s.ID)
	case s.InputPrefix == s.OutputPrefix:
		return fmt.Errorf("stage %s: input and output prefixes must differ", s.ID)
	case s.Handler == nil:
		return fmt.Errorf("stage %s: handler is required", s.ID)
	case s.Interval <= 0 || s.Timeout <= 0:
		return fmt.Errorf("stage %s: interval and timeout must be positive", s.ID)
	}
	return nil
}

// QuarantinePrefix is the failure area for this stage.
func (s *Stage) QuarantinePrefix() string {
	return naming.QuarantinePrefix(s.ID)
}

func (s *Stage) accepts(key naming.Key) bool {
	if !naming.ValidFile(key.File) {
		return false
	}
	if s.Accepts == nil {
		return true
	}
	return s.Accepts(key)
}
