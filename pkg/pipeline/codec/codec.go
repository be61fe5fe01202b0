// ABOUTME: Codec plug-in contract and the controller surface codecs decode through
// ABOUTME: Codecs recognise a stream from its first bytes then decode via Controller
package codec

import (
	"errors"
	"io"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// RecogniseBytes is the most a codec is shown before it must decide
const RecogniseBytes = 6 * 1024

var (
	// ErrUnsupported is returned by StreamInitialise for variants a codec
	// recognised but cannot decode
	ErrUnsupported = errors.New("codec: unsupported stream")
	// ErrCorrupt is returned by Process for undecodable data
	ErrCorrupt = errors.New("codec: corrupt stream")
)

// StreamInfo describes the encoded stream being recognised
type StreamInfo struct {
	URI        string
	TotalBytes uint64
	StartPos   uint64
	Seekable   bool
	Live       bool
	PCM        *msg.PcmStreamInfo
}

// Codec decodes one container or format. A codec instance handles one stream
// at a time.
type Codec interface {
	ID() string
	SupportsMimeType(mimeType string) bool

	// Recognise reports whether header, the first bytes of the stream, is in
	// this codec's format
	Recognise(info StreamInfo, header []byte) bool

	// StreamInitialise prepares to decode a recognised stream read from ctl
	StreamInitialise(ctl Controller) error

	// Process decodes and outputs one chunk. It returns io.EOF once the
	// stream has been fully decoded.
	Process() error

	// TrySeek moves decoding to sample, returning false if the stream
	// cannot be repositioned there
	TrySeek(streamID uint32, sample uint64) bool

	// StreamCompleted releases per-stream state
	StreamCompleted()
}

// Format describes a codec's decoded output
type Format struct {
	BitRate     int
	BitDepth    int
	SampleRate  int
	Channels    int
	CodecName   string
	TrackLength uint64 // jiffies, 0 when unknown
	SampleStart uint64
	Lossless    bool
}

// Controller is the surface a codec decodes through. Read returns io.EOF at
// the end of the stream, whatever ended it.
type Controller interface {
	io.Reader

	// StreamID identifies the stream being decoded
	StreamID() uint32

	// TrySeek asks the source to restart the stream at bytePos
	TrySeek(streamID uint32, bytePos uint64) bool

	// StreamLength is the total encoded length in bytes, 0 when unknown
	StreamLength() uint64

	// StreamPos is the byte offset of the next Read
	StreamPos() uint64

	OutputDecodedStream(f Format)

	// OutputAudioPcm emits interleaved samples in the 24-bit range and
	// returns their duration in jiffies
	OutputAudioPcm(samples []int32, channels, sampleRate, bitDepth int, trackOffset uint64) uint64
}
