// ABOUTME: PCM codec for raw streams and RIFF/WAVE files
// ABOUTME: Raw PCM is described by the encoded stream; WAV describes itself
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
)

const pcmChunkFrames = 1024

// PCM decodes uncompressed audio
type PCM struct {
	info       codec.StreamInfo
	ctl        codec.Controller
	format     audio.Format
	bigEndian  bool
	dataStart  uint64
	dataBytes  uint64
	samplePos  uint64
	buf        []byte
	frameBytes int
}

// NewPCM creates a PCM codec
func NewPCM() *PCM {
	return &PCM{}
}

func (c *PCM) ID() string { return "pcm" }

func (c *PCM) SupportsMimeType(mimeType string) bool {
	switch mimeType {
	case "audio/L16", "audio/L24", "audio/wav", "audio/wave", "audio/x-wav":
		return true
	}
	return false
}

func (c *PCM) Recognise(info codec.StreamInfo, header []byte) bool {
	c.info = info
	if info.PCM != nil {
		return true
	}
	return len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE"))
}

func (c *PCM) StreamInitialise(ctl codec.Controller) error {
	c.ctl = ctl
	c.samplePos = 0
	if p := c.info.PCM; p != nil {
		c.format = audio.Format{Codec: "PCM", SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: p.BitDepth}
		c.bigEndian = p.BigEndian
		c.dataStart = 0
		c.dataBytes = ctl.StreamLength()
	} else {
		if err := c.readWavHeader(); err != nil {
			return err
		}
		c.bigEndian = false
	}
	if c.format.Channels <= 0 || c.format.SampleRate <= 0 {
		return fmt.Errorf("%w: pcm %s", codec.ErrUnsupported, c.format)
	}
	if err := checkRate("pcm", c.format.SampleRate); err != nil {
		return err
	}
	if _, err := audio.Unpack(nil, c.format.BitDepth, c.bigEndian); err != nil {
		return fmt.Errorf("%w: %v", codec.ErrUnsupported, err)
	}
	c.frameBytes = c.format.FrameBytes()
	c.buf = make([]byte, pcmChunkFrames*c.frameBytes)
	c.outputStream(0)
	return nil
}

func (c *PCM) outputStream(sampleStart uint64) {
	var length uint64
	if c.dataBytes > 0 {
		length = trackOffset(c.dataBytes/uint64(c.format.FrameBytes()), c.format.SampleRate)
	}
	c.ctl.OutputDecodedStream(codec.Format{
		BitRate:     c.format.SampleRate * c.format.Channels * c.format.BitDepth,
		BitDepth:    c.format.BitDepth,
		SampleRate:  c.format.SampleRate,
		Channels:    c.format.Channels,
		CodecName:   c.format.Codec,
		TrackLength: length,
		SampleStart: sampleStart,
		Lossless:    true,
	})
}

// readWavHeader consumes chunks up to the start of the data chunk
func (c *PCM) readWavHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(c.ctl, riff[:]); err != nil {
		return fmt.Errorf("%w: short wav header", codec.ErrCorrupt)
	}
	pos := uint64(12)
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(c.ctl, hdr[:]); err != nil {
			return fmt.Errorf("%w: wav missing data chunk", codec.ErrCorrupt)
		}
		pos += 8
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])
		switch id {
		case "fmt ":
			if size < 16 {
				return fmt.Errorf("%w: wav fmt chunk of %d bytes", codec.ErrCorrupt, size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(c.ctl, body); err != nil {
				return fmt.Errorf("%w: short wav fmt chunk", codec.ErrCorrupt)
			}
			pos += uint64(len(body))
			tag := binary.LittleEndian.Uint16(body[0:2])
			// 1 is integer PCM, 0xFFFE is WAVE_FORMAT_EXTENSIBLE
			if tag != 1 && tag != 0xFFFE {
				return fmt.Errorf("%w: wav format tag %#x", codec.ErrUnsupported, tag)
			}
			c.format = audio.Format{
				Codec:      "WAV",
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return fmt.Errorf("%w: wav data before fmt", codec.ErrCorrupt)
			}
			c.dataStart = pos
			c.dataBytes = uint64(size)
			return nil
		default:
			skip := int64(size + size%2)
			if _, err := io.CopyN(io.Discard, c.ctl, skip); err != nil {
				return fmt.Errorf("%w: short wav chunk %q", codec.ErrCorrupt, id)
			}
			pos += uint64(skip)
		}
	}
}

func (c *PCM) Process() error {
	n, err := io.ReadFull(c.ctl, c.buf)
	n -= n % c.frameBytes
	if n > 0 {
		samples, uerr := audio.Unpack(c.buf[:n], c.format.BitDepth, c.bigEndian)
		if uerr != nil {
			return uerr
		}
		frames := uint64(n / c.frameBytes)
		c.ctl.OutputAudioPcm(samples, c.format.Channels, c.format.SampleRate, c.format.BitDepth, trackOffset(c.samplePos, c.format.SampleRate))
		c.samplePos += frames
	}
	if err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

func (c *PCM) TrySeek(streamID uint32, sample uint64) bool {
	bytePos := c.dataStart + sample*uint64(c.frameBytes)
	if c.dataBytes > 0 && bytePos >= c.dataStart+c.dataBytes {
		return false
	}
	if !c.ctl.TrySeek(streamID, bytePos) {
		return false
	}
	c.samplePos = sample
	c.outputStream(sample)
	return true
}

func (c *PCM) StreamCompleted() {
	c.ctl = nil
	c.buf = nil
}
