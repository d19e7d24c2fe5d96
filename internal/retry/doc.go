// Package retry holds the timing primitives used around external calls:
// exponential backoff with retryable-error classification, a bounded
// submit-then-poll state machine, and a per-process rate gate. All of them
// take a Clock so tests can run against FakeClock without sleeping.
package retry
