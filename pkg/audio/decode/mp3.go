// ABOUTME: MP3 codec
// ABOUTME: Decodes MPEG-1/2 Layer III through go-mp3 reading from the codec controller
package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
)

// go-mp3 always produces 16-bit stereo
const (
	mp3Channels    = 2
	mp3FrameBytes  = 4
	mp3ChunkFrames = 1152
)

// MP3 decodes MP3 audio
type MP3 struct {
	ctl        codec.Controller
	decoder    *mp3.Decoder
	sampleRate int
	samplePos  uint64
	buf        []byte
}

// NewMP3 creates an MP3 codec
func NewMP3() *MP3 {
	return &MP3{}
}

func (c *MP3) ID() string { return "mp3" }

func (c *MP3) SupportsMimeType(mimeType string) bool {
	return mimeType == "audio/mpeg" || mimeType == "audio/mp3"
}

func (c *MP3) Recognise(_ codec.StreamInfo, header []byte) bool {
	if bytes.HasPrefix(header, []byte("ID3")) {
		return true
	}
	return len(header) >= 4 && isLayer3Sync(header)
}

// isLayer3Sync checks for an MPEG audio frame header: 11 sync bits, a valid
// version, layer III, a bitrate index other than free/bad and a valid rate
func isLayer3Sync(h []byte) bool {
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return false
	}
	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	bitrate := h[2] >> 4
	rate := (h[2] >> 2) & 0x03
	return version != 1 && layer == 1 && bitrate != 0 && bitrate != 0x0F && rate != 0x03
}

func (c *MP3) StreamInitialise(ctl codec.Controller) error {
	c.ctl = ctl
	c.samplePos = 0
	if err := c.open(); err != nil {
		return err
	}
	c.buf = make([]byte, mp3ChunkFrames*mp3FrameBytes)
	c.outputStream(0)
	return nil
}

func (c *MP3) open() error {
	dec, err := mp3.NewDecoder(c.ctl)
	if err != nil {
		return fmt.Errorf("%w: mp3: %v", codec.ErrCorrupt, err)
	}
	c.decoder = dec
	c.sampleRate = dec.SampleRate()
	return checkRate("mp3", c.sampleRate)
}

func (c *MP3) outputStream(sampleStart uint64) {
	var bitRate int
	if c.samplePos > 0 {
		secs := float64(c.samplePos) / float64(c.sampleRate)
		bitRate = int(float64(c.ctl.StreamPos()*8) / secs)
	}
	c.ctl.OutputDecodedStream(codec.Format{
		BitRate:     bitRate,
		BitDepth:    16,
		SampleRate:  c.sampleRate,
		Channels:    mp3Channels,
		CodecName:   "MP3",
		SampleStart: sampleStart,
	})
}

func (c *MP3) Process() error {
	if c.decoder == nil {
		if err := c.open(); err != nil {
			return err
		}
	}
	n, err := io.ReadFull(c.decoder, c.buf)
	n -= n % mp3FrameBytes
	if n > 0 {
		samples, _ := audio.Unpack(c.buf[:n], 16, false)
		c.ctl.OutputAudioPcm(samples, mp3Channels, c.sampleRate, 16, trackOffset(c.samplePos, c.sampleRate))
		c.samplePos += uint64(n / mp3FrameBytes)
	}
	if err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

// TrySeek estimates the byte offset from the average bitrate decoded so far.
// The decoder is reopened so it resynchronises on the next frame header.
func (c *MP3) TrySeek(streamID uint32, sample uint64) bool {
	if c.samplePos == 0 || c.ctl.StreamPos() == 0 {
		return false
	}
	bytePos := uint64(float64(sample) * float64(c.ctl.StreamPos()) / float64(c.samplePos))
	if length := c.ctl.StreamLength(); length > 0 && bytePos >= length {
		return false
	}
	if !c.ctl.TrySeek(streamID, bytePos) {
		return false
	}
	c.decoder = nil
	c.samplePos = sample
	c.outputStream(sample)
	return true
}

func (c *MP3) StreamCompleted() {
	c.decoder = nil
	c.ctl = nil
	c.buf = nil
}
