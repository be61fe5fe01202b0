// ABOUTME: Audio output package for playing pipeline audio
// ABOUTME: Provides the Output interface, oto and null sinks, and the Animator
// Package output drives decoded audio from the pipeline to a sink.
//
// The Animator pulls Playable messages at the device rate and hands their
// samples to an Output.
//
// Example:
//
//	a := output.NewAnimator(p, output.NewOto(logger), logger)
//	err := a.Run(ctx)
package output
