// Package github implements the review and pull request client used by the
// pull request poller and by stages that open pull requests.
//
// Only the handful of REST endpoints the pipeline needs are wrapped: pull
// request status, reviews, inline review comments, pull request creation and
// issue comments. Failures are tagged with services.ErrExternalService (or
// ErrExternalTimeout when the request deadline expires) so callers can retry
// on the next cycle.
package github
