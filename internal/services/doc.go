// Package services defines shared utilities consumed by the pipeline, the
// orchestrator, and the external integrations under this directory.
//
// Key responsibilities:
//   - Context helpers that stamp envelope IDs, work item IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (validation, handler, transition, not found, external) with
//     errors.Is regardless of which package produced them.
//
// Subpackages hold the clients for the external collaborators: the GitHub
// review API and the git branch pusher.
package services
