// ABOUTME: Codec plug-ins for the pipeline's codec controller
// ABOUTME: PCM/WAV, MP3, FLAC, Ogg Opus and RAOP L16/L24
// Package decode provides the codec plug-ins used by the codec controller.
//
// Every codec decodes from a codec.Controller, which looks like an io.Reader
// over the current encoded stream, and outputs int32 samples in the 24-bit
// range.
//
// Example:
//
//	ctl := codec.NewElement(factory, rewinder, decoded, logger)
//	for _, c := range decode.Default() {
//	    ctl.AddCodec(c)
//	}
package decode
