// Package notifications delivers operator-facing notices when envelopes
// suspend, fail, complete, or when a pull request wait resolves.
//
// Backends implement Service and return delivery errors; the Notifier wraps a
// Service so callers in the pipeline loops can fire and forget. ntfy is used
// for push notifications and NATS for machine consumers; when neither is
// configured a noop service is used.
package notifications
