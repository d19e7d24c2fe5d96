// Package pipeline is the generic stage engine: it scans an input prefix,
// decides which items are actionable from stored state alone, runs the stage
// handler under a retry policy, commits the output, and quarantines items
// that can never succeed.
//
// Every decision is derived from the object store. A processed item whose
// output is missing becomes actionable again (reconciliation), which is what
// makes a crash between commit and status flip safe.
package pipeline
