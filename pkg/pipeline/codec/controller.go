// ABOUTME: Codec controller running the decode goroutine
// ABOUTME: Recognises each encoded stream, drives its codec and forwards control messages in order
package codec

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

var (
	// ErrNotSeekable is returned by Seek for live or unseekable streams
	ErrNotSeekable = errors.New("codec: stream not seekable")
	// ErrStreamNotPlaying is returned by Seek when the stream is not the one being decoded
	ErrStreamNotPlaying = errors.New("codec: stream not playing")
)

// Downstream receives decoded output
type Downstream interface {
	Push(m msg.Msg)
}

type endReason int

const (
	endNone endReason = iota
	endStreamStart
	endStreamEnded
	endRecognise
)

// Element pulls encoded data through a Rewinder, decodes it with the first
// codec that recognises each stream and pushes the result downstream.
type Element struct {
	factory    *msg.Factory
	rewinder   *Rewinder
	downstream Downstream
	logger     zerolog.Logger
	codecs     []Codec

	mu         sync.Mutex
	streamID   uint32
	seekable   bool
	seekSecs   uint32
	seekWanted bool
	active     Codec
	sampleRate int

	// decode goroutine only
	handler       msg.StreamHandler
	info          StreamInfo
	pending       msg.Msg
	current       *msg.AudioEncoded
	offset        int
	ended         endReason
	recognising   bool
	expectedFlush uint32
	discarding    bool
	badRate       bool
	streamLength  uint64
	streamPos     uint64
	done          chan struct{}
}

func NewElement(factory *msg.Factory, rewinder *Rewinder, downstream Downstream, logger zerolog.Logger) *Element {
	return &Element{
		factory:    factory,
		rewinder:   rewinder,
		downstream: downstream,
		logger:     logger.With().Str("component", "codec").Logger(),
		done:       make(chan struct{}),
	}
}

// AddCodec registers a codec. Codecs are tried in the order added.
func (e *Element) AddCodec(c Codec) {
	e.codecs = append(e.codecs, c)
}

// SupportsMimeType reports whether any codec handles mimeType
func (e *Element) SupportsMimeType(mimeType string) bool {
	for _, c := range e.codecs {
		if c.SupportsMimeType(mimeType) {
			return true
		}
	}
	return false
}

// Start launches the decode goroutine. It exits after forwarding Quit.
func (e *Element) Start() {
	go e.run()
}

// Done is closed once the decode goroutine has exited
func (e *Element) Done() <-chan struct{} {
	return e.done
}

// Seek asks the active codec to restart streamID at seconds
func (e *Element) Seek(streamID uint32, seconds uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.streamID != streamID {
		return ErrStreamNotPlaying
	}
	if !e.seekable {
		return ErrNotSeekable
	}
	e.seekWanted = true
	e.seekSecs = seconds
	return nil
}

func (e *Element) run() {
	defer close(e.done)
	for {
		m := e.pull()
		switch v := m.(type) {
		case *msg.EncodedStream:
			e.decodeStream(v)
		case *msg.AudioEncoded:
			// no codec took this stream
			v.RemoveRef()
		case *msg.Flush:
			if e.expectedFlush != msg.FlushIDInvalid && v.ID == e.expectedFlush {
				e.expectedFlush = msg.FlushIDInvalid
				e.discarding = false
				v.RemoveRef()
				continue
			}
			e.downstream.Push(v)
		case *msg.Quit:
			e.downstream.Push(v)
			return
		case *msg.AudioPcm, *msg.Silence, *msg.Playable, *msg.DecodedStream:
			panic("codec: decoded audio upstream of the codec controller")
		default:
			e.downstream.Push(m)
		}
	}
}

func (e *Element) pull() msg.Msg {
	if e.pending != nil {
		m := e.pending
		e.pending = nil
		return m
	}
	return e.rewinder.Pull()
}

func (e *Element) decodeStream(es *msg.EncodedStream) {
	e.handler = es.Handler
	e.info = StreamInfo{
		URI:        es.URI,
		TotalBytes: es.TotalBytes,
		StartPos:   es.StartPos,
		Seekable:   es.Seekable,
		Live:       es.Live,
		PCM:        es.PCM,
	}
	e.streamLength = es.TotalBytes
	e.streamPos = es.StartPos
	e.badRate = false
	e.mu.Lock()
	e.streamID = es.StreamID
	e.seekable = es.Seekable && !es.Live
	e.seekWanted = false
	e.mu.Unlock()
	e.downstream.Push(es)

	c := e.recognise()
	if c == nil {
		e.logger.Warn().Str("uri", e.info.URI).Msg("no codec recognised stream")
		e.endStream()
		return
	}

	if err := c.StreamInitialise(e); err != nil {
		e.logger.Warn().Err(err).Str("codec", c.ID()).Msg("stream initialise failed")
		e.endStream()
		return
	}
	e.mu.Lock()
	e.active = c
	e.mu.Unlock()

	for {
		if secs, ok := e.takeSeek(); ok {
			sample := uint64(secs) * uint64(e.currentSampleRate())
			if !c.TrySeek(e.StreamID(), sample) {
				e.logger.Info().Uint32("seconds", secs).Msg("seek rejected by codec")
			}
		}
		err := c.Process()
		if err == nil && e.badRate {
			err = ErrUnsupported
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			e.logger.Warn().Err(err).Str("codec", c.ID()).Msg("decode failed")
		}
		break
	}
	c.StreamCompleted()
	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()
	e.endStream()
}

// endStream drops whatever is left of the current stream up to the message
// that ended it, which becomes pending
func (e *Element) endStream() {
	e.releaseCurrent()
	for e.ended == endNone {
		var buf [RecogniseBytes]byte
		if _, err := e.Read(buf[:]); err != nil {
			break
		}
	}
	e.ended = endNone
}

func (e *Element) recognise() Codec {
	header := make([]byte, 0, RecogniseBytes)
	e.recognising = true
	for len(header) < RecogniseBytes {
		n, err := e.Read(header[len(header):RecogniseBytes])
		header = header[:len(header)+n]
		if err != nil {
			break
		}
	}
	e.recognising = false
	e.releaseCurrent()
	e.ended = endNone

	var chosen Codec
	for _, c := range e.codecs {
		if c.Recognise(e.info, header) {
			chosen = c
			break
		}
	}
	e.streamPos = e.info.StartPos
	if err := e.rewinder.Rewind(); err != nil {
		e.logger.Warn().Err(err).Msg("cannot replay stream start")
		chosen = nil
	}
	e.rewinder.Stop()
	return chosen
}

func (e *Element) takeSeek() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seekWanted {
		return 0, false
	}
	e.seekWanted = false
	return e.seekSecs, true
}

func (e *Element) currentSampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

func (e *Element) releaseCurrent() {
	if e.current != nil {
		e.current.RemoveRef()
		e.current = nil
		e.offset = 0
	}
}

// Read implements io.Reader over the AudioEncoded messages of the current
// stream. Control messages met along the way are forwarded in order; one that
// starts a new stream or track ends this one.
func (e *Element) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if e.ended != endNone {
			break
		}
		if e.current == nil {
			e.next()
			continue
		}
		data := e.current.Data()[e.offset:]
		c := copy(p[n:], data)
		n += c
		e.offset += c
		e.streamPos += uint64(c)
		if e.offset == len(e.current.Data()) {
			e.releaseCurrent()
		}
	}
	if n == 0 && e.ended != endNone {
		return 0, io.EOF
	}
	return n, nil
}

func (e *Element) next() {
	m := e.rewinder.Pull()
	switch v := m.(type) {
	case *msg.AudioEncoded:
		if e.discarding {
			v.RemoveRef()
			return
		}
		e.current, e.offset = v, 0
		return
	case *msg.Flush:
		if e.expectedFlush != msg.FlushIDInvalid && v.ID == e.expectedFlush {
			e.expectedFlush = msg.FlushIDInvalid
			e.discarding = false
			v.RemoveRef()
			return
		}
	case *msg.EncodedStream:
		e.endWith(m, endStreamStart)
		return
	case *msg.TrackMsg, *msg.Mode, *msg.Session, *msg.Quit, *msg.ChangeInput:
		e.endWith(m, endStreamEnded)
		return
	}
	if e.recognising {
		// replayed after recognition; the rewinder holds its own reference
		m.RemoveRef()
		e.ended = endRecognise
		return
	}
	e.downstream.Push(m)
}

func (e *Element) endWith(m msg.Msg, reason endReason) {
	e.ended = reason
	if e.recognising {
		m.RemoveRef()
		return
	}
	e.pending = m
}

func (e *Element) StreamID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamID
}

func (e *Element) TrySeek(streamID uint32, bytePos uint64) bool {
	if e.handler == nil || streamID != e.StreamID() {
		return false
	}
	flushID := e.handler.TrySeek(streamID, bytePos)
	if flushID == msg.FlushIDInvalid {
		return false
	}
	e.releaseCurrent()
	e.expectedFlush = flushID
	e.discarding = true
	e.streamPos = bytePos
	return true
}

func (e *Element) StreamLength() uint64 { return e.streamLength }
func (e *Element) StreamPos() uint64    { return e.streamPos }

func (e *Element) OutputDecodedStream(f Format) {
	if !msg.IsSupportedSampleRate(f.SampleRate) {
		e.logger.Error().Int("rate", f.SampleRate).Str("codec", f.CodecName).Msg("unsupported sample rate, dropping stream")
		e.badRate = true
		return
	}
	e.mu.Lock()
	e.sampleRate = f.SampleRate
	id := e.streamID
	e.mu.Unlock()
	info := msg.DecodedStreamInfo{
		StreamID:    id,
		BitRate:     f.BitRate,
		BitDepth:    f.BitDepth,
		SampleRate:  f.SampleRate,
		NumChannels: f.Channels,
		CodecName:   f.CodecName,
		TrackLength: f.TrackLength,
		SampleStart: f.SampleStart,
		Lossless:    f.Lossless,
		Seekable:    e.info.Seekable,
		Live:        e.info.Live,
	}
	e.downstream.Push(msg.Must(e.factory.CreateDecodedStream(info, e.handler)))
}

func (e *Element) OutputAudioPcm(samples []int32, channels, sampleRate, bitDepth int, trackOffset uint64) uint64 {
	if len(samples) == 0 || e.badRate {
		return 0
	}
	if !msg.IsSupportedSampleRate(sampleRate) {
		e.logger.Error().Int("rate", sampleRate).Msg("unsupported sample rate, dropping audio")
		e.badRate = true
		return 0
	}
	m := msg.Must(e.factory.CreateAudioPcm(samples, channels, sampleRate, bitDepth, trackOffset))
	j := m.Jiffies()
	e.downstream.Push(m)
	return j
}
