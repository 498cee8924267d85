// Package api defines the wire-format types shared by the IPC server, the
// HTTP API and the CLI renderers. It translates envelopes, work items,
// suspensions and pull request waits into transport-friendly DTOs so callers
// never couple to the storage models.
//
// # Key Types
//
// Envelope / EnvelopeSummary: full and condensed envelope views. Where tells
// the caller which store the envelope was found in (queue, suspension,
// pr_wait or archive).
//
// PendingItem: one row of the operator's pending list, covering
// clarifications, approvals, pull request waits and work items waiting on
// approvals.
//
// DaemonStatus: runtime information, stepper and poller summaries, queue
// depths and stage health.
//
// # Design Notes
//
// JSON tags use snake_case to match the envelope's own field names.
// Timestamps use RFC3339 with milliseconds.
package api
