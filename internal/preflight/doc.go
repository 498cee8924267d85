// Package preflight provides readiness checks for the filesystem paths,
// agent commands and external services remotedev depends on.
//
// The daemon runs RunAll at startup: a failed data directory check refuses
// to start, other failures are logged and reported by "remotedev status".
// Checks for optional features are skipped when the feature is not
// configured.
package preflight
