// Package config loads, normalizes, and validates datadealer configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for caption
// provider API keys. Validation rejects unsupported save modes, providers, and
// unknown-kind policies before any frame is read.
package config
