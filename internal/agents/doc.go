// Package agents provides the concrete stage handlers.
//
// Command runs an external agent process per envelope: the envelope is
// written to the process as JSON on stdin and the updated envelope is read
// back from stdout. Record is the placeholder used for stages without a
// configured command. PullRequest decorates another handler so the branch it
// reports is pushed and a pull request opened before the envelope waits on
// review.
package agents
