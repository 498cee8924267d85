// Package metrics exposes Prometheus collectors for the pipeline stepper, the
// pull request poller and the workflow orchestrator. All recording methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics
