// Package objectstore is the only path from postforge to shared storage.
//
// The Gateway contract is deliberately small (list, read JSON, write JSON,
// write binary, delete) so it can sit on any S3-compatible store. ReadJSON
// distinguishes missing objects (services.ErrNotFound) from objects whose
// bytes are not a UTF-8 JSON object (services.ErrCorrupted); callers
// quarantine the latter instead of retrying them.
//
// Backends:
//   - S3: minio-go client for R2, MinIO, or AWS S3.
//   - SQLite: single-file blob table for local runs.
//   - Memory: in-process maps with optional listing lag and fault injection
//     for tests.
package objectstore
