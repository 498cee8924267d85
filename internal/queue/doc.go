// Package queue exposes the per-stage FIFO queues the pipeline drains and the
// archive of envelopes that reached a terminal status.
//
// Each stage owns the list queue:{STAGE} in the durable store. Push validates
// the envelope and logs problems, but a malformed envelope is still enqueued:
// validation failures are observable, never fatal. Pop returns envelopes in
// push order and never hands the same entry to two callers; a payload that is
// not decodable at all is moved to rejected:{STAGE} instead of being dropped.
//
// Treat the store as the single source of truth: nothing here caches
// envelopes between calls.
package queue
