// Package stages holds the concrete stage handlers and the registry that
// turns configuration into pipeline stage definitions.
//
// goal: goal records become a posts plan (generated_content/.../posts.json)
// through the LLM client. content: the plan releases one draft at a time into
// next_posts, spaced by the plan's Timeline. posts: each draft gets an image
// and is published to ready_post, after which the draft is deleted.
//
// Every handler parses its input into a closed set of payload variants in
// Prepare; anything else is a validation error and the item is left alone.
package stages
