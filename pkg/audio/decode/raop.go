// ABOUTME: Codec for audio received over RAOP
// ABOUTME: Reads the container header then decodes L16/L24 big-endian packets
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/raop"
)

// Raop decodes uncompressed RAOP sessions. ALAC sessions are recognised but
// rejected at initialise since this build carries no ALAC decoder.
type Raop struct {
	ctl       codec.Controller
	format    raop.Format
	samplePos uint64
	buf       []byte
}

// NewRaop creates a RAOP codec
func NewRaop() *Raop {
	return &Raop{}
}

func (c *Raop) ID() string { return "raop" }

func (c *Raop) SupportsMimeType(string) bool { return false }

func (c *Raop) Recognise(_ codec.StreamInfo, header []byte) bool {
	return bytes.HasPrefix(header, []byte(raop.ContainerMagic+" "))
}

func (c *Raop) StreamInitialise(ctl codec.Controller) error {
	fmtp, err := raop.ReadContainerHeader(ctl)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrCorrupt, err)
	}
	f, err := raop.ParseFmtp(fmtp)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrUnsupported, err)
	}
	if f.Encoding != "L16" && f.Encoding != "L24" {
		return fmt.Errorf("%w: raop %s", codec.ErrUnsupported, f.Encoding)
	}
	if err := checkRate("raop", f.SampleRate); err != nil {
		return err
	}
	c.ctl = ctl
	c.format = f
	c.samplePos = 0
	ctl.OutputDecodedStream(codec.Format{
		BitRate:    f.SampleRate * f.Channels * f.BitDepth,
		BitDepth:   f.BitDepth,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		CodecName:  f.Encoding,
		Lossless:   true,
	})
	return nil
}

func (c *Raop) Process() error {
	payload, err := raop.ReadPacket(c.ctl, c.buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", codec.ErrCorrupt, err)
	}
	c.buf = payload
	frameBytes := c.format.Channels * c.format.BitDepth / 8
	n := len(payload) - len(payload)%frameBytes
	if n == 0 {
		return nil
	}
	samples, err := audio.Unpack(payload[:n], c.format.BitDepth, true)
	if err != nil {
		return err
	}
	c.ctl.OutputAudioPcm(samples, c.format.Channels, c.format.SampleRate, c.format.BitDepth, trackOffset(c.samplePos, c.format.SampleRate))
	c.samplePos += uint64(n / frameBytes)
	return nil
}

// TrySeek is unsupported; RAOP is live
func (c *Raop) TrySeek(uint32, uint64) bool {
	return false
}

func (c *Raop) StreamCompleted() {
	c.ctl = nil
}
