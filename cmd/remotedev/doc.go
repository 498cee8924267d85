// Package main hosts the remotedev CLI.
//
// Commands translate terminal invocations into IPC calls against the daemon:
// ingesting prompts, answering clarifications and approvals, inspecting
// queues and work items, and tailing daemon logs. Process control (start,
// stop, restart, status) goes through internal/daemonctl so the same logic
// serves offline status reports.
package main
