// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp object keys, stage names, accounts, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retryable, quarantinable, and skippable outcomes.
//   - Delay hints so clients can pass a server's Retry-After to the retry
//     scheduler.
//
// Integrations with external services live in subpackages (llm, imagegen).
package services
