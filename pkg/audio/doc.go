// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and sample conversion functions
// Package audio provides the sample representation shared by codecs and outputs.
//
// Decoded samples are int32, interleaved, and scaled to the signed 24-bit
// range whatever the source bit depth, so ramps and attenuation work the same
// way for every stream.
//
// Example:
//
//	samples, err := audio.Unpack(data, 16, true)
//	out := audio.PackInt16LE(nil, samples)
package audio
