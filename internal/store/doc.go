// Package store provides the durable primitives every other component builds
// on: ordered lists addressed by name (stage queues), scalar keys with prefix
// enumeration (suspensions, pending pull requests, work items), and string
// sets (indexes).
//
// SQLite is the production backend. Each primitive maps to a single statement
// or a short transaction so concurrent pushers are safe and concurrent poppers
// never receive the same entry. Memory implements the same contract for tests
// and tooling.
package store
