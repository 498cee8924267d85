// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types reuse the api package DTOs where the HTTP API
// already defines them, so both surfaces return the same shapes. Errors cross
// the wire as plain strings; callers that need the error kind should use the
// HTTP API.
package ipc
