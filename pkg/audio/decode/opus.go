// ABOUTME: Ogg Opus codec
// ABOUTME: Decodes through libopusfile's stream reader at 48kHz
package decode

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
)

const (
	opusSampleRate = 48000
	// 120ms, the longest Opus packet
	opusMaxFrames = 5760
)

var opusHead = []byte("OpusHead")

// Opus decodes Opus in an Ogg container
type Opus struct {
	ctl       codec.Controller
	stream    *opus.Stream
	channels  int
	samplePos uint64
	pcm       []int16
}

// NewOpus creates an Opus codec
func NewOpus() *Opus {
	return &Opus{}
}

func (c *Opus) ID() string { return "opus" }

func (c *Opus) SupportsMimeType(mimeType string) bool {
	return mimeType == "audio/ogg" || mimeType == "audio/opus"
}

// Recognise looks for the OpusHead identification packet in the first Ogg
// page and takes the channel count from it
func (c *Opus) Recognise(_ codec.StreamInfo, header []byte) bool {
	if !bytes.HasPrefix(header, []byte("OggS")) {
		return false
	}
	idx := bytes.Index(header, opusHead)
	if idx < 0 || idx+10 > len(header) {
		return false
	}
	c.channels = int(header[idx+9])
	return c.channels > 0
}

func (c *Opus) StreamInitialise(ctl codec.Controller) error {
	if c.channels > 2 {
		return fmt.Errorf("%w: opus with %d channels", codec.ErrUnsupported, c.channels)
	}
	c.ctl = ctl
	c.samplePos = 0
	stream, err := opus.NewStream(ctl)
	if err != nil {
		return fmt.Errorf("%w: opus: %v", codec.ErrCorrupt, err)
	}
	c.stream = stream
	c.pcm = make([]int16, opusMaxFrames*c.channels)
	ctl.OutputDecodedStream(codec.Format{
		BitDepth:   16,
		SampleRate: opusSampleRate,
		Channels:   c.channels,
		CodecName:  "OPUS",
	})
	return nil
}

func (c *Opus) Process() error {
	n, err := c.stream.Read(c.pcm)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("%w: opus: %v", codec.ErrCorrupt, err)
	}
	if n == 0 {
		return nil
	}
	samples := make([]int32, n*c.channels)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(c.pcm[i])
	}
	c.ctl.OutputAudioPcm(samples, c.channels, opusSampleRate, 16, trackOffset(c.samplePos, opusSampleRate))
	c.samplePos += uint64(n)
	return nil
}

// TrySeek is unsupported; opusfile seeking needs a seekable source
func (c *Opus) TrySeek(uint32, uint64) bool {
	return false
}

func (c *Opus) StreamCompleted() {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.ctl = nil
	c.pcm = nil
}
