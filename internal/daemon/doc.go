// Package daemon owns the long-running remotedev runtime.
//
// A Daemon ties together the envelope store, the stage stepper, the PR wait
// poller and the workflow orchestrator, and holds an flock-based lock so only
// one instance drives a data directory. Operator actions (ingest, resume,
// work item events, PR wait registration) are exposed as methods used by the
// IPC server and, when api.bind is configured, by a token-protected HTTP API.
//
// Stage behavior lives in the agents and stage packages; this package only
// handles startup, shutdown and the operator-facing surface.
package daemon
