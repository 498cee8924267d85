// Package config loads, normalizes, and validates remotedev configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GITHUB_TOKEN and REMOTEDEV_CONFIG. The Config type centralizes every knob the
// daemon and CLI need: pipeline stage order, loop cadences, the PR wait horizon,
// notification backends, and per-stage agent commands.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
