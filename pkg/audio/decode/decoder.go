// ABOUTME: Codec plug-in registry
// ABOUTME: Lists the decoders available to the codec controller in recognition order
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
)

// Default returns one instance of every codec. Formats with unambiguous
// magic come first; MP3 frame sync is the loosest test so it goes last.
func Default() []codec.Codec {
	return []codec.Codec{
		NewRaop(),
		NewPCM(),
		NewFLAC(),
		NewOpus(),
		NewMP3(),
	}
}

// scaleTo24 moves a sample of the given bit depth into the 24-bit range
func scaleTo24(sample int32, bitDepth int) int32 {
	switch {
	case bitDepth < 24:
		return sample << (24 - bitDepth)
	case bitDepth > 24:
		return sample >> (bitDepth - 24)
	default:
		return sample
	}
}

// checkRate rejects sample rates the pipeline has no jiffy size for
func checkRate(name string, rate int) error {
	if !msg.IsSupportedSampleRate(rate) {
		return fmt.Errorf("%w: %s at %dHz", codec.ErrUnsupported, name, rate)
	}
	return nil
}

// trackOffset converts a sample position to jiffies, or 0 for a rate the
// pipeline cannot play
func trackOffset(sample uint64, sampleRate int) uint64 {
	if !msg.IsSupportedSampleRate(sampleRate) {
		return 0
	}
	return msg.SamplesToJiffies(sample, sampleRate)
}
