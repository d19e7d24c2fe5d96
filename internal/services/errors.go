package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrTimeout       = errors.New("timeout")
	ErrRateLimited   = errors.New("rate limited")
	ErrCorrupted     = errors.New("corrupted storage object")
	ErrValidation    = errors.New("validation error")
	ErrOutputCommit  = errors.New("output commit error")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrRejected      = errors.New("rejected by external service")
)

// Failure reasons persisted on quarantine records.
const (
	ReasonCorrupted        = "CorruptedStorageObject"
	ReasonTransient        = "TransientExternalError"
	ReasonRejected         = "TransformRejected"
	ReasonValidation       = "ValidationError"
	ReasonOutputCommit     = "OutputCommitError"
	ReasonUnclassifiedFail = "UnclassifiedFailure"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether err is worth another attempt with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// FailureReason maps an error to the reason recorded on a quarantine record.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnclassifiedFail
	case errors.Is(err, ErrCorrupted):
		return ReasonCorrupted
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrOutputCommit):
		return ReasonOutputCommit
	case errors.Is(err, ErrRejected):
		return ReasonRejected
	case IsRetryable(err):
		return ReasonTransient
	default:
		return ReasonUnclassifiedFail
	}
}

// DelayHint carries a server-provided wait (Retry-After) alongside a retryable error.
type DelayHint struct {
	Err   error
	Delay time.Duration
}

func (h *DelayHint) Error() string {
	if h.Err == nil {
		return fmt.Sprintf("retry after %s", h.Delay)
	}
	return h.Err.Error()
}

func (h *DelayHint) Unwrap() error { return h.Err }

// WithDelayHint attaches a suggested wait to err. Non-positive delays return err unchanged.
func WithDelayHint(err error, delay time.Duration) error {
	if err == nil || delay <= 0 {
		return err
	}
	return &DelayHint{Err: err, Delay: delay}
}

// DelayHintFrom extracts the suggested wait attached with WithDelayHint.
func DelayHintFrom(err error) (time.Duration, bool) {
	var hint *DelayHint
	if errors.As(err, &hint) && hint.Delay > 0 {
		return hint.Delay, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
