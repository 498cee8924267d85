// Package suspension holds envelopes paused for a human decision and the
// operations that resume them.
//
// Two keyed stores exist: waiting:clarification:{id} and waiting:approval:{id}.
// Resumption takes the stored envelope atomically, so a second resume for the
// same id fails with services.ErrNotFound instead of enqueueing a duplicate.
// Resumed envelopes return to the stage that suspended them; that stage
// retries with the new information.
package suspension
