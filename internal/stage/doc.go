// Package stage defines the contract between the pipeline stepper and the
// agents bound to each named stage.
//
// A Handler processes one envelope synchronously and declares the stage that
// follows it. Handlers may flag the returned envelope for clarification,
// approval, failure, or a pull request wait; the stepper interprets those
// flags and owns the envelope's history. The Registry keeps handlers in the
// declared pipeline order so every tick visits stages deterministically.
package stage
