// Package prwait tracks envelopes paused on an open pull request and runs the
// background poller that resolves them.
//
// A registration is created when a stage returns an envelope with status
// PENDING_PR_CLOSE. Each poll cycle visits every registration: waits older
// than the timeout horizon fail, a new "changes requested" review sends a
// rework envelope back to the originating stage while the registration stays
// in place, a merge forwards the snapshot to the next stage, and a close
// without merge fails the envelope. Client errors leave the registration for
// the next cycle.
package prwait
