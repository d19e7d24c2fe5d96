// Package config loads, normalizes, and validates postforge configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for secrets
// such as the storage keys and LLM_API_KEY. The Config type centralizes every
// knob the scheduler and CLI need, so the object store, stages, and transform
// services are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized prefixes, canonical log formats, and clear validation errors.
package config
