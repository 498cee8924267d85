// Package logs reads the daemon log file directly. The CLI uses it when the
// daemon is not reachable over IPC and its in-memory log stream is
// unavailable.
package logs
