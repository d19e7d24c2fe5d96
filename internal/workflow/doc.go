// Package workflow runs the pipeline stages on their poll intervals.
//
// The Manager starts one lane per stage inside an errgroup. Each lane holds
// the stage's lease (see package lease), runs one scan/resolve/process pass
// through the pipeline engine, then sleeps for the stage interval. A lane
// that cannot obtain its lease stays on standby and tries again next
// interval. A failed pass (the object store was unreachable for every
// platform) backs off for the workflow error retry interval and sends one
// stage error notification per failure streak.
//
// RunOnce executes a single pass per stage in pipeline order and is what
// the CLI's `run --once` uses. Status aggregates per-lane counters, the last
// pass, the last error, lease state, and handler health for the CLI and the
// HTTP API.
package workflow
