// Package naming owns the object key conventions shared by every stage.
//
// Keys have the shape <prefix>/<platform>/<identity>/<file>. Files are either
// the fixed posts.json aggregate or <verb>_<id>.json hand-offs where the verb
// carries the campaign/regular tag. Quarantined items live under
// failed_<stage>/ with the suffix of their original key preserved.
package naming
