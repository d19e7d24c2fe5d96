// Package stage defines the contract between the generic pipeline engine and
// the stage-specific handlers (goal, content, posts).
package stage
