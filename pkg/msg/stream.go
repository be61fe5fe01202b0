// ABOUTME: Stream, track and mode descriptors carried by pipeline messages
// ABOUTME: Defines the StreamHandler contract implemented by protocol sources
package msg

import "io"

const (
	// FlushIDInvalid is returned when no flush will follow a request
	FlushIDInvalid uint32 = 0
	// HaltIDNone marks a halt nobody is waiting for
	HaltIDNone uint32 = 0
	// StreamIDInvalid never identifies a real stream
	StreamIDInvalid uint32 = 0
)

// PlayDecision is a stream handler's answer to OkToPlay
type PlayDecision int

const (
	PlayYes PlayDecision = iota
	PlayNo
	PlayLater
)

func (d PlayDecision) String() string {
	switch d {
	case PlayYes:
		return "yes"
	case PlayNo:
		return "no"
	default:
		return "later"
	}
}

// StreamHandler is implemented by the protocol that produced a stream.
// Every method may be called with a stale stream id and must then answer
// "not this one" rather than fail.
type StreamHandler interface {
	// OkToPlay asks whether a stream that reached the stopper may play
	OkToPlay(streamID uint32) PlayDecision

	// TrySeek restarts the stream at byte offset, returning the flush id that
	// will precede the new data or FlushIDInvalid
	TrySeek(streamID uint32, offset uint64) uint32

	// TryStop stops the stream, returning the flush id that will follow its
	// last data or FlushIDInvalid
	TryStop(streamID uint32) uint32

	// TryGet writes bytes of url starting at offset to w
	TryGet(w io.Writer, url string, offset, bytes uint64) bool

	// NotifyStarving reports pipeline starvation for a stream
	NotifyStarving(mode string, streamID uint32, starving bool)
}

// ModeInfo describes the behaviour of a playback mode
type ModeInfo struct {
	SupportsLatency     bool
	Realtime            bool
	SupportsPause       bool
	RampPauseResumeLong bool
}

// Track describes one item of content
type Track struct {
	ID       uint32
	URI      string
	Metadata string
}

// PcmStreamInfo describes raw PCM carried in an encoded stream
type PcmStreamInfo struct {
	BitDepth   int
	SampleRate int
	Channels   int
	BigEndian  bool
}

// DecodedStreamInfo describes the PCM a codec produces for one stream
type DecodedStreamInfo struct {
	StreamID    uint32
	BitRate     int
	BitDepth    int
	SampleRate  int
	NumChannels int
	CodecName   string
	TrackLength uint64 // jiffies, 0 when unknown
	SampleStart uint64
	Lossless    bool
	Seekable    bool
	Live        bool
}

// SameFormat reports whether two streams need no output reconfiguration
func (i DecodedStreamInfo) SameFormat(o DecodedStreamInfo) bool {
	return i.BitDepth == o.BitDepth && i.SampleRate == o.SampleRate && i.NumChannels == o.NumChannels
}
