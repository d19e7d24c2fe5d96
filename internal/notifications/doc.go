// Package notifications delivers operator alerts through ntfy.
//
// The pipeline reports quarantined items and failed stage passes here. When no
// topic is configured NewService returns a noop implementation so callers never
// need nil checks.
package notifications
