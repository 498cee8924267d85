// Package envelope defines the TaskEnvelope: the unit of work every pipeline
// stage reads and writes.
//
// The envelope carries a stable identifier, creation metadata, an opaque
// caller context, a mutable task control block, per-stage outputs, and an
// append-only history. Stage outputs and context are generic maps because
// their shape belongs to the agents, not to the pipeline.
package envelope
