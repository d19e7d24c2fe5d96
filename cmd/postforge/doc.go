// Command postforge runs and inspects the storage-backed post pipeline.
//
// `postforge run` starts one lane per enabled stage and, when api.bind is
// set, the operator HTTP endpoint. The remaining commands work directly
// against the object store: scan previews what a stage would pick up,
// quarantine lists and requeues failure records, and status reports either
// the live scheduler (through the API) or the local stage health.
package main
