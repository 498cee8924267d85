// Package workflow advances task envelopes through the configured pipeline
// stages.
//
// The Manager is the pipeline stepper. Each tick it walks the stage registry
// in declared order, pops at most one envelope per stage queue, and hands it to
// that stage's handler. The returned envelope decides what happens next: it is
// parked in a suspension store when the handler asks for clarification or
// approval, registered with the PR wait registry when the handler opened a pull
// request, failed and archived when the handler reported an error, or pushed to
// the next stage. Envelopes dispatched by the orchestrator for a work item are
// completed in place and reported through the CompletionHook instead of moving
// down the linear pipeline.
//
// A panic or error while processing one envelope fails that envelope only; the
// tick continues with the remaining stages.
package workflow
