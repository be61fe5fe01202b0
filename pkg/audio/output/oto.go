// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM to the platform device through a persistent oto player
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio"
)

// OtoBufferSize is the device buffer requested from oto
const OtoBufferSize = 50 * time.Millisecond

// Oto output implementation using oto library
type Oto struct {
	logger     zerolog.Logger
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int
	buf        []byte
}

// NewOto creates a new Oto output
func NewOto(logger zerolog.Logger) *Oto {
	return &Oto{logger: logger.With().Str("output", "oto").Logger()}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels, bitDepth int) error {
	if bitDepth != 16 {
		o.logger.Debug().Int("bit_depth", bitDepth).Msg("oto plays 16-bit, samples will be truncated")
	}

	if o.otoCtx != nil {
		if o.sampleRate != sampleRate || o.channels != channels {
			// oto allows a single context per process
			o.logger.Warn().
				Int("from_rate", o.sampleRate).Int("from_channels", o.channels).
				Int("to_rate", sampleRate).Int("to_channels", channels).
				Msg("format change not supported by oto, keeping current context")
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   OtoBufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.logger.Info().Int("sample_rate", sampleRate).Int("channels", channels).Msg("audio output initialized")
	return nil
}

// Write outputs audio samples (blocks until written)
func (o *Oto) Write(samples []int32) error {
	if o.pipeWriter == nil {
		return ErrNotOpen
	}
	o.buf = audio.PackInt16LE(o.buf, samples)
	if _, err := o.pipeWriter.Write(o.buf); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

func (o *Oto) Latency() time.Duration { return OtoBufferSize }

// Close releases output resources
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("suspend oto context: %w", err)
		}
	}
	return nil
}
