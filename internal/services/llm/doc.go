// Package llm provides an OpenRouter-compatible chat completions client used
// by the goal stage to draft posts.
//
// Each call is a single attempt. Failures are tagged with the services error
// markers so the pipeline's retry policy decides whether to try again:
// HTTP 408, 5xx, empty content, and network timeouts are transient; 429 is
// rate limited and carries the Retry-After hint; other 4xx responses are
// rejected. A retry.Gate spaces calls to respect provider quotas.
//
// DecodeLLMJSON tolerates code fences and prose around the JSON body.
package llm
