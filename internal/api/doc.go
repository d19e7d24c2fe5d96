// Package api serves the operator HTTP surface: health, workflow status, and
// per-stage quarantine listing and requeue.
//
// Routes:
//
//	GET  /healthz
//	GET  /api/status
//	GET  /api/stages/{stage}/quarantine
//	POST /api/stages/{stage}/quarantine/requeue?key=<record key>
//
// Payloads use camelCase JSON tags and RFC3339 timestamps with milliseconds.
// Errors are returned as {"error": "..."} with a matching status code.
package api
